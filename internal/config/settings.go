package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// KeyDelimiter separates nested section names in flattened settings keys.
const KeyDelimiter = ":"

// Settings is the flattened key/value view of the settings files.
// Nested sections are joined with KeyDelimiter, e.g. "ElasticConfiguration:Uri".
type Settings map[string]string

// LoadSettings reads the base settings file and, when environment is not empty,
// the environment overlay next to it. Overlay values override base values.
// The base file is required; a missing overlay is skipped.
func LoadSettings(basePath, environment string) (Settings, error) {
	resolved, err := resolveProjectPath(basePath)
	if err != nil {
		return nil, fmt.Errorf("locate settings file: %w", err)
	}

	settings, err := readSettingsFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("load base settings: %w", err)
	}

	environment = strings.TrimSpace(environment)
	if environment == "" {
		return settings, nil
	}

	overlayPath := OverlayPath(resolved, environment)
	if _, err := os.Stat(overlayPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return settings, nil
		}
		return nil, fmt.Errorf("stat overlay settings: %w", err)
	}

	overlay, err := readSettingsFile(overlayPath)
	if err != nil {
		return nil, fmt.Errorf("load overlay settings: %w", err)
	}

	if err := mergo.Merge(&settings, overlay, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge overlay settings: %w", err)
	}

	return settings, nil
}

// OverlayPath returns the environment-specific sibling of basePath:
// "conf/appsettings.yaml" with "Production" becomes "conf/appsettings.Production.yaml".
func OverlayPath(basePath, environment string) string {
	ext := filepath.Ext(basePath)
	stem := strings.TrimSuffix(basePath, ext)
	return stem + "." + environment + ext
}

// Get returns the value stored under key.
func (s Settings) Get(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

// String returns the value stored under key or def when the key is absent or blank.
func (s Settings) String(key, def string) string {
	if v, ok := s[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// Duration parses the value stored under key as a time.Duration.
func (s Settings) Duration(key string, def time.Duration) (time.Duration, error) {
	raw := s.String(key, "")
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}

// Int parses the value stored under key as an integer.
func (s Settings) Int(key string, def int) (int, error) {
	raw := s.String(key, "")
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return v, nil
}

// Bool parses the value stored under key as a boolean.
func (s Settings) Bool(key string, def bool) (bool, error) {
	raw := s.String(key, "")
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, raw)
	}
	return v, nil
}

// Section returns the direct and nested children of prefix with the prefix stripped.
func (s Settings) Section(prefix string) map[string]string {
	prefix = strings.TrimSuffix(prefix, KeyDelimiter) + KeyDelimiter
	out := make(map[string]string)
	for k, v := range s {
		if rest, ok := strings.CutPrefix(k, prefix); ok && rest != "" {
			out[rest] = v
		}
	}
	return out
}

// Keys returns the settings keys in lexical order.
func (s Settings) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// readSettingsFile parses a YAML document (JSON is accepted as a YAML subset)
// and flattens it into Settings.
func readSettingsFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	settings := Settings{}
	if doc == nil {
		return settings, nil
	}

	root, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parse %s: top-level document must be a mapping", filepath.Base(path))
	}
	flatten(settings, "", root)

	return settings, nil
}

func flatten(out Settings, prefix string, node any) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			flatten(out, joinKey(prefix, key), child)
		}
	case map[any]any:
		for key, child := range v {
			flatten(out, joinKey(prefix, fmt.Sprint(key)), child)
		}
	case []any:
		for i, child := range v {
			flatten(out, joinKey(prefix, strconv.Itoa(i)), child)
		}
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = fmt.Sprint(v)
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + KeyDelimiter + key
}

// resolveProjectPath locates a file relative to the working directory, walking
// up the directory tree for relative paths. Absolute paths are returned as is.
func resolveProjectPath(relative string) (string, error) {
	if filepath.IsAbs(relative) {
		if _, err := os.Stat(relative); err != nil {
			return "", err
		}
		return relative, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, relative)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("unable to locate %s", relative)
}
