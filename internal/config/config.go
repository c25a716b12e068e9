// Package config loads kerf settings from an HCL, JSON, TOML or YAML file.
//
// Example (kerf.hcl):
//
//	database  = "/var/lib/erp/forest.db"
//	page_size = 500
//	strict    = true
//
//	scoring {
//	  kind "door" {
//	    base = 2
//	    term "glass" { weight = 1.5 }
//	  }
//	  kind "room" {
//	    formula = "(* 1.1 (children_sum))"
//	  }
//	}
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/kerfworks/kerf/api"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every load and validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete kerf configuration.
type Config struct {
	// Database is the path of the forest SQLite database.
	Database string `json:"database" yaml:"database" hcl:"database,optional" toml:"database" validate:"required"`
	// PageSize is the number of nodes loaded per walker page.
	PageSize int `json:"page_size" yaml:"page_size" hcl:"page_size,optional" toml:"page_size" validate:"gte=1,lte=100000"`
	// Strict serializes edits and recalculation per project.
	Strict bool `json:"strict" yaml:"strict" hcl:"strict,optional" toml:"strict"`
	// LockDir holds the run and project lock files.
	LockDir string `json:"lock_dir" yaml:"lock_dir" hcl:"lock_dir,optional" toml:"lock_dir"`
	// MaxRate caps node visits per second; 0 disables the limit.
	MaxRate float64 `json:"max_rate" yaml:"max_rate" hcl:"max_rate,optional" toml:"max_rate" validate:"gte=0"`
	// MetricsTextfile, when set, receives Prometheus metrics after each run.
	MetricsTextfile string `json:"metrics_textfile" yaml:"metrics_textfile" hcl:"metrics_textfile,optional" toml:"metrics_textfile"`
	// Scoring overrides the built-in weights.
	Scoring *api.Profile `json:"scoring" yaml:"scoring" hcl:"scoring,block" toml:"scoring" validate:"omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Database: "kerf.db",
		PageSize: 500,
	}
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("kind", validateKind)
}

func validateKind(fl validator.FieldLevel) bool {
	_, err := api.ParseKind(fl.Field().String())
	return err == nil
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".hcl", ".json":
		if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
		}
	case ".toml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q", ErrInvalid, ext)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Locks returns the lock directory, next to the database by default.
func (c *Config) Locks() string {
	if c.LockDir != "" {
		return c.LockDir
	}
	return c.Database + ".locks"
}

// Validate checks field ranges and the scoring profile. Call it again after
// applying flag overrides.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Scoring != nil {
		seen := make(map[api.Kind]bool)
		for _, kp := range c.Scoring.Kinds {
			k, _ := api.ParseKind(kp.Name)
			if seen[k] {
				return fmt.Errorf("%w: kind %q configured twice", ErrInvalid, kp.Name)
			}
			seen[k] = true
		}
	}
	return nil
}
