// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package clientjobs

import (
	"os"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig locates the coordination database.
type DatabaseConfig struct {
	// NameSuffix distinguishes independent deployments sharing a storage
	// host. It is appended to the versioned namespace prefix; hyphens are
	// folded to underscores when the name is computed.
	NameSuffix string `yaml:"nameSuffix"`

	// Dir is the directory holding the database files. Empty means the
	// current directory.
	Dir string `yaml:"dir"`
}

// Config is the store configuration, typically loaded from a YAML file.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
}

// Validate returns an error if the configuration cannot identify a
// database.
func (c Config) Validate() error {
	if c.Database.NameSuffix == "" {
		return errors.NotValidf("empty database name suffix")
	}
	return nil
}

// ParseConfig reads a Config from YAML content.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Annotate(err, "parsing store config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}

// ReadConfig loads a Config from the YAML file at path.
func ReadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Annotatef(err, "reading store config %q", path)
	}
	cfg, err := ParseConfig(data)
	return cfg, errors.Trace(err)
}
