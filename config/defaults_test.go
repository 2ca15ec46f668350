package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nestedDefaults struct {
	Name string `default:"inner"`
}

type defaultsConfig struct {
	Name     string        `default:"outer"`
	Count    int           `default:"3"`
	Small    int8          `default:"7"`
	Size     uint          `default:"9"`
	Ratio    float64       `default:"0.5"`
	Enabled  bool          `default:"true"`
	Wait     time.Duration `default:"1m30s"`
	Tags     []string      `default:"[\"a\",\"b\"]"`
	Nested   nestedDefaults
	Optional *nestedDefaults
	Keep     string `default:"unused"`
	Untagged int
}

func TestProcessDefaults(t *testing.T) {
	t.Parallel()
	cfg := &defaultsConfig{Keep: "set", Optional: &nestedDefaults{}}
	require.NoError(t, ProcessDefaults(cfg))

	assert.Equal(t, "outer", cfg.Name)
	assert.Equal(t, 3, cfg.Count)
	assert.Equal(t, int8(7), cfg.Small)
	assert.Equal(t, uint(9), cfg.Size)
	assert.InDelta(t, 0.5, cfg.Ratio, 0)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Wait)
	assert.Equal(t, []string{"a", "b"}, cfg.Tags)
	assert.Equal(t, "inner", cfg.Nested.Name)
	assert.Equal(t, "inner", cfg.Optional.Name)
	assert.Equal(t, "set", cfg.Keep)
	assert.Zero(t, cfg.Untagged)
}

func TestProcessDefaults_Errors(t *testing.T) {
	t.Parallel()
	assert.ErrorIs(t, ProcessDefaults(nil), ErrConfigNil)
	assert.ErrorIs(t, ProcessDefaults(defaultsConfig{}), ErrConfigNotPointer)
	n := 1
	assert.ErrorIs(t, ProcessDefaults(&n), ErrConfigNotStruct)

	overflow := &struct {
		V int8 `default:"300"`
	}{}
	assert.ErrorIs(t, ProcessDefaults(overflow), ErrDefaultValueOverflows)

	unsupported := &struct {
		V map[string]string `default:"x"`
	}{}
	assert.ErrorIs(t, ProcessDefaults(unsupported), ErrUnsupportedTypeForDefault)

	badDuration := &struct {
		V time.Duration `default:"soon"`
	}{}
	assert.Error(t, ProcessDefaults(badDuration))
}

type requiredConfig struct {
	Name   string `required:"true"`
	Port   int    `required:"true"`
	Inner  requiredInner
	Ptr    *requiredInner `required:"true"`
	Ignore string
}

type requiredInner struct {
	Path string `required:"true"`
}

func TestValidateRequired(t *testing.T) {
	t.Parallel()
	err := ValidateRequired(&requiredConfig{Port: 1})
	require.ErrorIs(t, err, ErrConfigRequiredFieldMissing)
	assert.Contains(t, err.Error(), "Name")
	assert.Contains(t, err.Error(), "Inner.Path")
	assert.Contains(t, err.Error(), "Ptr")
	assert.NotContains(t, err.Error(), "Port")

	err = ValidateRequired(&requiredConfig{Name: "a", Port: 1, Inner: requiredInner{Path: "p"}, Ptr: &requiredInner{}})
	require.ErrorIs(t, err, ErrConfigRequiredFieldMissing)
	assert.Contains(t, err.Error(), "Ptr.Path")

	assert.NoError(t, ValidateRequired(&requiredConfig{Name: "a", Port: 1, Inner: requiredInner{Path: "p"}, Ptr: &requiredInner{Path: "q"}}))
}
