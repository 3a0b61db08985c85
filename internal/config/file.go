package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// configFileName is the optional TOML overlay, looked up under ~/.ghstats.
const configFileName = "config.toml"

// fileConfig holds values loaded from the optional TOML config file.
// Nested tables are flattened into upper-snake keys so they line up with
// the environment variable names (e.g. [bigquery] project_id ->
// BIGQUERY_PROJECT_ID).
type fileConfig struct {
	data map[string]string
}

// loadFile reads the config file from dir (or ~/.ghstats if dir is empty).
// A missing file is not an error.
func loadFile(dir string) (*fileConfig, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil // no home, no file overlay
		}
		dir = filepath.Join(home, ".ghstats")
	}

	raw, err := os.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var loaded map[string]any
	if err := toml.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configFileName, err)
	}

	return &fileConfig{data: flatten(loaded, "")}, nil
}

func (f *fileConfig) get(key string) string {
	if f == nil {
		return ""
	}
	return f.data[key]
}

// flatten converts nested maps to upper-snake dotted keys:
// {"bigquery": {"project_id": "p"}} becomes {"BIGQUERY_PROJECT_ID": "p"}.
func flatten(m map[string]any, prefix string) map[string]string {
	result := make(map[string]string)

	for key, value := range m {
		fullKey := normaliseKey(key)
		if prefix != "" {
			fullKey = prefix + "_" + fullKey
		}

		if nested, ok := value.(map[string]any); ok {
			for k, v := range flatten(nested, fullKey) {
				result[k] = v
			}
			continue
		}

		result[fullKey] = fmt.Sprintf("%v", value)
	}

	return result
}

func normaliseKey(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-'a'+'A')
		case r == '-' || r == '.':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
