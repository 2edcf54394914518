package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variable keys
const (
	envAssetFolder = "REBASE_ASSET_FOLDER"
	envVerbose     = "REBASE_VERBOSE"
	envKeepName    = "REBASE_KEEP_NAME"
	envSkipHash    = "REBASE_SKIP_HASH"
	envOutdir      = "REBASE_OUTDIR"
)

// LoadDotenv loads dir/.env into the process environment if it exists.
// Variables already set are left alone.
func LoadDotenv(dir string) error {
	p := filepath.Join(dir, ".env")
	if _, err := os.Stat(p); err != nil {
		return nil
	}
	if err := godotenv.Load(p); err != nil {
		return fmt.Errorf("load %s: %w", p, err)
	}
	return nil
}

// ApplyEnv overrides config values with REBASE_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(envAssetFolder); ok {
		c.Rebase.AssetFolder = v
	}
	if v, ok := os.LookupEnv(envOutdir); ok && v != "" {
		c.Outdir = v
		c.Outfile = ""
	}
	for key, dst := range map[string]*bool{
		envVerbose:  &c.Rebase.Verbose,
		envKeepName: &c.Rebase.KeepName,
		envSkipHash: &c.Rebase.SkipHash,
	} {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = b
	}
	return validate(c)
}
