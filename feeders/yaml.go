package feeders

import (
	"fmt"
	"os"

	"github.com/golobby/config/v3/pkg/feeder"
	"gopkg.in/yaml.v3"
)

// YamlFeeder is a feeder that reads YAML files
type YamlFeeder struct {
	feeder.Yaml
}

func NewYamlFeeder(filePath string) YamlFeeder {
	return YamlFeeder{feeder.Yaml{Path: filePath}}
}

// Feed decodes the file into structure, a pointer to a struct. An empty
// file sets nothing.
func (y YamlFeeder) Feed(structure any) error {
	if err := checkStructPointer(structure); err != nil {
		return err
	}
	info, err := checkFile("YAML", y.Path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	if err := y.Yaml.Feed(structure); err != nil {
		return fmt.Errorf("failed to parse YAML %s: %w", y.Path, err)
	}
	return nil
}

// FeedKey reads a YAML file and extracts a specific key. A missing key
// leaves target untouched.
func (y YamlFeeder) FeedKey(key string, target any) error {
	data, err := os.ReadFile(y.Path)
	if err != nil {
		return fmt.Errorf("failed to read YAML %s: %w", y.Path, err)
	}
	var allData map[string]yaml.Node
	if err := yaml.Unmarshal(data, &allData); err != nil {
		return fmt.Errorf("failed to parse YAML %s: %w", y.Path, err)
	}

	node, exists := allData[key]
	if !exists {
		return nil
	}
	if err := node.Decode(target); err != nil {
		return fmt.Errorf("failed to unmarshal value to target: %w", err)
	}
	return nil
}
