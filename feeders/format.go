package feeders

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ForFile picks the feeder matching the file extension.
func ForFile(path string) (Feeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return NewTomlFeeder(path), nil
	case ".yaml", ".yml":
		return NewYamlFeeder(path), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}
