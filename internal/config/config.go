// Package config loads the optional .reattrib.yaml file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const FileName = ".reattrib.yaml"

type Scan struct {
	Format string `yaml:"format" env:"SCAN_FORMAT"`
	Color  string `yaml:"color" env:"SCAN_COLOR"`
}

type Watch struct {
	Debounce Duration `yaml:"debounce" env:"WATCH_DEBOUNCE"`
}

// Config holds file-level defaults. REATTRIB_* environment variables
// override the file, and command-line flags override both.
type Config struct {
	Backend      string   `yaml:"backend" env:"BACKEND"`
	Engine       string   `yaml:"engine" env:"ENGINE"`
	Refs         []string `yaml:"refs" env:"REFS"`
	BackupPrefix string   `yaml:"backup_prefix" env:"BACKUP_PREFIX"`
	Scan         Scan     `yaml:"scan"`
	Watch        Watch    `yaml:"watch"`
}

const envPrefix = "REATTRIB_"

func Default() Config {
	return Config{
		Backend:      "cli",
		Engine:       "native",
		BackupPrefix: "refs/original/",
		Scan:         Scan{Format: "text", Color: "auto"},
		Watch:        Watch{Debounce: Duration(350 * time.Millisecond)},
	}
}

// Duration decodes Go duration strings such as "500ms".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if err := d.UnmarshalText([]byte(raw)); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", text)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Load reads path on top of the defaults and then applies the environment.
// When explicit is false a missing file is not an error.
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case !explicit && errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// PathFor returns the config file location inside a repository.
func PathFor(repoPath string) string {
	return filepath.Join(repoPath, FileName)
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
