package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"github.com/GoCodeAlone/ctrlloop/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var ErrUnsupportedOutputFormat = errors.New("unsupported output format")

// NewConfigCommand prints the effective configuration: defaults, then the
// file, then CTRLLOOP_* environment overrides.
func NewConfigCommand() *cobra.Command {
	var (
		configPath string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration ctrlhost would run with after applying defaults,
the configuration file and CTRLLOOP_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return writeConfig(cmd.OutOrStdout(), cfg, format)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file (.yaml, .yml or .toml)")
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format (yaml or toml)")
	return cmd
}

func writeConfig(w io.Writer, cfg *config.AppConfig, format string) error {
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return enc.Close()
	case "toml":
		if err := toml.NewEncoder(w).Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode TOML: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedOutputFormat, format)
	}
}
