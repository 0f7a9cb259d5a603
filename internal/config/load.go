// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/hashicorp/hcl/v2/hclwrite"

	"grimm.is/netinstall/internal/errors"
)

// LoadFile loads and validates a config file. Files ending in .json are read
// as HCL's JSON syntax.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindNotFound, "read config %s", path)
	}
	return LoadBytes(path, data)
}

// LoadBytes parses data as if read from filename. Unset values take their
// defaults.
func LoadBytes(filename string, data []byte) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, data, evalContext(), &cfg); err != nil {
		return nil, errors.Attr(errors.Wrap(err, errors.KindValidation, "parse config"), "file", filename)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "invalid config %s", filename)
	}
	return &cfg, nil
}

// Format renders the configuration as HCL.
func (c *Config) Format() []byte {
	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(c, f.Body())
	return hclwrite.Format(f.Bytes())
}
