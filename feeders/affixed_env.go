package feeders

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

var durationType = reflect.TypeOf(time.Duration(0))

// AffixedEnvFeeder is a feeder that reads environment variables with a prefix and/or suffix
type AffixedEnvFeeder struct {
	Prefix string
	Suffix string

	lookup func(string) (string, bool)
}

// NewAffixedEnvFeeder creates a new AffixedEnvFeeder with the specified prefix and suffix
func NewAffixedEnvFeeder(prefix, suffix string) AffixedEnvFeeder {
	return AffixedEnvFeeder{Prefix: prefix, Suffix: suffix, lookup: os.LookupEnv}
}

// WithLookup returns a copy that reads variables through lookup instead of
// the process environment.
func (f AffixedEnvFeeder) WithLookup(lookup func(string) (string, bool)) AffixedEnvFeeder {
	f.lookup = lookup
	return f
}

// Feed sets every field tagged `env:"NAME"` from PREFIX_NAME_SUFFIX. Nested
// structs are walked with the same affixes, extended by the struct field's
// own env tag when it has one.
func (f AffixedEnvFeeder) Feed(structure any) error {
	if err := checkStructPointer(structure); err != nil {
		return err
	}
	if f.Prefix == "" && f.Suffix == "" {
		return ErrEnvEmptyPrefixAndSuffix
	}
	if f.lookup == nil {
		f.lookup = os.LookupEnv
	}
	return f.processStructFields(reflect.ValueOf(structure).Elem(), strings.ToUpper(f.Prefix), strings.ToUpper(f.Suffix))
}

func (f AffixedEnvFeeder) processStructFields(rv reflect.Value, prefix, suffix string) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)
		if !fieldType.IsExported() {
			continue
		}
		if err := f.processField(field, &fieldType, prefix, suffix); err != nil {
			return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
		}
	}
	return nil
}

func (f AffixedEnvFeeder) processField(field reflect.Value, fieldType *reflect.StructField, prefix, suffix string) error {
	envTag, exists := fieldType.Tag.Lookup("env")

	// An env tag on a nested struct extends the prefix of its fields.
	nested := field
	if nested.Kind() == reflect.Pointer && !nested.IsNil() {
		nested = nested.Elem()
	}
	if nested.Kind() == reflect.Struct && nested.Type() != durationType {
		if exists && envTag != "" {
			prefix = joinEnv(prefix, strings.ToUpper(envTag))
		}
		return f.processStructFields(nested, prefix, suffix)
	}

	if !exists || envTag == "" {
		return nil
	}

	envName := joinEnv(joinEnv(prefix, strings.ToUpper(envTag)), suffix)

	if envValue, ok := f.lookup(envName); ok && envValue != "" {
		return setFieldValue(field, envValue)
	}
	return nil
}

func joinEnv(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "_" + b
	}
}

// setFieldValue converts and sets a field value
func setFieldValue(field reflect.Value, strValue string) error {
	if !field.CanSet() {
		return ErrFieldCannotBeSet
	}

	if field.Type() == durationType {
		d, err := time.ParseDuration(strValue)
		if err != nil {
			return fmt.Errorf("cannot convert value to duration: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	}

	convertedValue, err := cast.FromType(strValue, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert value to type %v: %w", field.Type(), err)
	}
	field.Set(reflect.ValueOf(convertedValue).Convert(field.Type()))
	return nil
}
