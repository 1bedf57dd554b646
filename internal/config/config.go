// Package config loads the dbranch configuration: YAML on disk, validated
// against an embedded CUE schema, with environment overrides applied last.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// EnvDataDir overrides the configured data directory.
const EnvDataDir = "DBRANCH_DATA_DIR"

// Config is the resolved dbranch configuration.
type Config struct {
	// DataDir holds tracked database files and the metadata store.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// DigestBatchSize is the default batch size for table digests.
	DigestBatchSize int `yaml:"digest_batch_size" json:"digest_batch_size"`

	Audit AuditConfig `yaml:"audit" json:"audit"`
	Owner OwnerConfig `yaml:"owner" json:"owner"`
}

// AuditConfig configures the DDL audit listener.
type AuditConfig struct {
	// ObjectKinds restricts auditing; empty means all kinds.
	ObjectKinds []string `yaml:"object_kinds" json:"object_kinds"`
}

// OwnerConfig is the ownership applied to cloned storage. -1 leaves the
// respective id unchanged.
type OwnerConfig struct {
	UID int `yaml:"uid" json:"uid"`
	GID int `yaml:"gid" json:"gid"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:         defaultDataDir(),
		DigestBatchSize: 1000,
		Audit:           AuditConfig{ObjectKinds: []string{}},
		Owner:           OwnerConfig{UID: -1, GID: -1},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "dbranch-data"
	}
	return filepath.Join(home, ".dbranch")
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment overrides apply; a named file that does not exist
// is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		cfg.DataDir = dir
	}
}

// Validate unifies the configuration with the embedded CUE schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := schema.LookupPath(cue.ParsePath("config")).Unify(ctx.Encode(c))
	if err := value.Err(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// MetaPath is the metadata store's file path under the data directory.
func (c *Config) MetaPath(metaFile string) string {
	return filepath.Join(c.DataDir, metaFile)
}

// EnsureDataDir creates the data directory if needed.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", c.DataDir, err)
	}
	return nil
}
