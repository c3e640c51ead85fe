package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a settings file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks the encoding from a file extension: .yaml, .yml or .json,
// case-insensitive.
func FormatFor(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported config file extension: %q", ext)
	}
}

// FromFile loads a settings file. ${VAR} and ${VAR:-default} references are
// filled from the process environment before decoding, so secrets such as
// the Twilio auth token can stay out of the file.
func FromFile(path string) (Config, error) {
	format, err := FormatFor(path)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(ExpandEnv(data, os.LookupEnv), format)
}

// Parse decodes data in the given format.
func Parse(data []byte, format Format) (Config, error) {
	var m map[string]any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &m); err != nil {
			return Config{}, fmt.Errorf("parse json: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unknown config format %q", format)
	}
	return New(m), nil
}

// FromYAML decodes a YAML settings document.
func FromYAML(data []byte) (Config, error) {
	return Parse(data, FormatYAML)
}

// FromJSON decodes a JSON settings document.
func FromJSON(data []byte) (Config, error) {
	return Parse(data, FormatJSON)
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} using lookup. Unset
// variables without a default become empty.
func ExpandEnv(data []byte, lookup func(string) (string, bool)) []byte {
	return envRef.ReplaceAllFunc(data, func(match []byte) []byte {
		m := envRef.FindSubmatch(match)
		if v, ok := lookup(string(m[1])); ok && v != "" {
			return []byte(v)
		}
		return m[2]
	})
}
