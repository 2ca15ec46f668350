// Package feeders fills configuration structs from files and environment
// variables. Feeders only touch fields their source mentions, so they can be
// layered: defaults first, then a file, then the environment.
package feeders

import (
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/golobby/config/v3"
)

// Feeder populates a pointer to a struct.
type Feeder = config.Feeder

// KeyFeeder extracts a single top-level section.
type KeyFeeder interface {
	FeedKey(key string, target any) error
}

var (
	ErrInvalidStructure        = errors.New("expected pointer to struct")
	ErrEnvEmptyPrefixAndSuffix = errors.New("env: prefix or suffix cannot be empty")
	ErrFieldCannotBeSet        = errors.New("field cannot be set")
	ErrUnsupportedFormat       = errors.New("unsupported config file format")
)

func checkStructPointer(structure any) error {
	t := reflect.TypeOf(structure)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w, got %T", ErrInvalidStructure, structure)
	}
	return nil
}

// checkFile stats path; a missing file reports os.ErrNotExist.
func checkFile(kind, path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %s: %w", kind, path, err)
	}
	return info, nil
}
