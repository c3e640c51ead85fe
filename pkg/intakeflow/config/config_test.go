package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestString verifies string extraction with defaults.
func TestString(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		key        string
		defaultVal string
		want       string
	}{
		{"key exists", map[string]any{"name": "alice"}, "name", "default", "alice"},
		{"key missing", map[string]any{"other": "value"}, "name", "default", "default"},
		{"wrong type", map[string]any{"name": 123}, "name", "default", "default"},
		{"dotted path", map[string]any{"store": map[string]any{"dsn": "memory"}}, "store.dsn", "", "memory"},
		{"literal dotted key wins", map[string]any{"store.dsn": "lit", "store": map[string]any{"dsn": "nested"}}, "store.dsn", "", "lit"},
		{"path through scalar", map[string]any{"store": "x"}, "store.dsn", "default", "default"},
		{"yaml any-keyed map", map[string]any{"store": map[any]any{"dsn": "old"}}, "store.dsn", "", "old"},
		{"nil map", nil, "name", "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			assert.Equal(t, tt.want, cfg.String(tt.key, tt.defaultVal))
		})
	}
}

// TestDuration verifies duration extraction with various input types.
func TestDuration(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  time.Duration
	}{
		{"string", "90s", 90 * time.Second},
		{"minutes string", "10m", 10 * time.Minute},
		{"int seconds", 5, 5 * time.Second},
		{"int64 seconds", int64(7), 7 * time.Second},
		{"float seconds", 1.5, 1500 * time.Millisecond},
		{"duration", 3 * time.Millisecond, 3 * time.Millisecond},
		{"invalid string", "soon", time.Hour},
		{"wrong type", true, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"d": tt.value})
			assert.Equal(t, tt.want, cfg.Duration("d", time.Hour))
		})
	}
}

// TestBoolAndInt verifies coercion of decoded and environment-style values.
func TestBoolAndInt(t *testing.T) {
	cfg := config.New(map[string]any{
		"a": true,
		"b": "false",
		"c": "nope",
		"n": 42,
		"f": 50.0,
		"g": 50.5,
		"s": "12",
		"x": "twelve",
	})

	assert.True(t, cfg.Bool("a", false))
	assert.False(t, cfg.Bool("b", true))
	assert.True(t, cfg.Bool("c", true))
	assert.True(t, cfg.Bool("missing", true))

	assert.Equal(t, 42, cfg.Int("n", 0))
	assert.Equal(t, 50, cfg.Int("f", 0))
	assert.Equal(t, 99, cfg.Int("g", 99))
	assert.Equal(t, 12, cfg.Int("s", 0))
	assert.Equal(t, 99, cfg.Int("x", 99))
}

// TestStringSlice verifies string slice extraction.
func TestStringSlice(t *testing.T) {
	cfg := config.New(map[string]any{
		"list":  []string{"a", "b"},
		"any":   []any{"c", "d"},
		"mixed": []any{"e", 1},
		"csv":   "f, g,,h",
	})

	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("list", nil))
	assert.Equal(t, []string{"c", "d"}, cfg.StringSlice("any", nil))
	assert.Equal(t, []string{"z"}, cfg.StringSlice("mixed", []string{"z"}))
	assert.Equal(t, []string{"f", "g", "h"}, cfg.StringSlice("csv", nil))
}

// TestSection verifies nested map extraction.
func TestSection(t *testing.T) {
	cfg := config.New(map[string]any{
		"twilio": map[string]any{"account_sid": "AC1"},
		"flat":   "x",
	})

	assert.Equal(t, "AC1", cfg.Section("twilio").String("account_sid", ""))
	assert.False(t, cfg.Section("flat").Has("anything"))
	assert.False(t, cfg.Section("missing").Has("anything"))
}

// TestSet verifies dotted writes create intermediate maps.
func TestSet(t *testing.T) {
	cfg := config.New(nil)
	cfg.Set("store.dsn", "postgres://db")
	cfg.Set("max_attempts", 2)

	assert.Equal(t, "postgres://db", cfg.String("store.dsn", ""))
	assert.Equal(t, 2, cfg.Int("max_attempts", 0))
	assert.True(t, cfg.Has("store"))
}

// TestFromFile verifies file loading with extension detection.
func TestFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("INTAKEFLOW_TEST_TWILIO_SID", "AC123")

	yamlPath := filepath.Join(tmpDir, "intakeflow.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
max_attempts: 2
twilio:
  account_sid: ${INTAKEFLOW_TEST_TWILIO_SID}
`), 0o644))

	jsonPath := filepath.Join(tmpDir, "intakeflow.JSON")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"store": {"dsn": "memory"}}`), 0o644))

	txtPath := filepath.Join(tmpDir, "intakeflow.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o644))

	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Int("max_attempts", 0))
	assert.Equal(t, "AC123", cfg.String("twilio.account_sid", ""))

	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.String("store.dsn", ""))

	_, err = config.FromFile(txtPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config file extension")

	_, err = config.FromFile(filepath.Join(tmpDir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")

	_, err = config.FromYAML([]byte(`invalid: yaml: content:`))
	assert.Error(t, err)
	_, err = config.FromJSON([]byte(`{invalid`))
	assert.Error(t, err)
}

func TestExpandEnv(t *testing.T) {
	env := envMap(map[string]string{"SID": "AC1", "EMPTY": ""})
	out := config.ExpandEnv([]byte("a: ${SID}\nb: ${MISSING:-fallback}\nc: ${MISSING}\nd: ${EMPTY:-x}\ne: $SID"), env)
	assert.Equal(t, "a: AC1\nb: fallback\nc: \nd: x\ne: $SID", string(out))
}

func TestFormatFor(t *testing.T) {
	f, err := config.FormatFor("settings.YML")
	require.NoError(t, err)
	assert.Equal(t, config.FormatYAML, f)

	_, err = config.Parse([]byte("{}"), config.Format("toml"))
	assert.Error(t, err)
}
