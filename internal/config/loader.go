package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix scopes the environment variables that override file values.
	EnvPrefix = "MODALHUB_"
	// ConfigPathEnv names the variable holding the config file path.
	ConfigPathEnv = "MODALHUB_CONFIG"

	maxConfigFileSize = 1024 * 1024
)

// Load reads configuration from the provided path (defaults to config.json when
// present), then applies MODALHUB_* environment overrides on top of Default().
//
// The file is JSON; it is parsed with koanf's YAML parser, which accepts JSON.
// Environment keys map SECTION_FIELD to section.field, for example
// MODALHUB_SESSIONS_MAX_HISTORY -> sessions.max_history and
// MODALHUB_PROVIDERS_OPENAI_API_KEY -> providers.openai.api_key.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if path == "" {
		path = "config.json"
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	loadedFile := ""
	if fileExists(absPath) {
		if err := loadFile(k, absPath); err != nil {
			return nil, err
		}
		loadedFile = absPath
	} else if explicit {
		return nil, fmt.Errorf("open config %s: %w", absPath, os.ErrNotExist)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.resolvePaths(loadedFile)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config %s too large: %d bytes", path, info.Size())
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

// envKey maps MODALHUB_SECTION_FIELD_NAME to section.field_name.
// An empty return tells koanf to skip the variable.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(key, "_")
	if !ok || field == "" {
		return ""
	}
	switch section {
	case "providers":
		name, attr, ok := strings.Cut(field, "_")
		if !ok || attr == "" {
			return ""
		}
		return section + "." + name + "." + attr
	case "assistant":
		if rest, ok := strings.CutPrefix(field, "tools_"); ok && rest != "" {
			return section + ".tools." + rest
		}
	case "storage":
		if field == "backend" {
			return section + "." + field
		}
		// databases are file-only
		return ""
	}
	return section + "." + field
}
