// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"flag"
	"fmt"
	"io"

	"go.uber.org/multierr"

	"grimm.is/netinstall/internal/config"
	"grimm.is/netinstall/internal/errors"
)

// RunValidate implements 'netinstalld validate'. With -print the effective
// configuration, defaults included, is written out as HCL.
func RunValidate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	var configPath string
	var printConfig bool
	fs.StringVar(&configPath, "c", DefaultConfigPath, "Path to configuration file")
	fs.BoolVar(&printConfig, "print", false, "Print the effective configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		fmt.Fprintf(out, "Configuration %s is invalid:\n", configPath)
		cause := err
		var e *errors.Error
		if errors.As(err, &e) && e.Underlying != nil {
			cause = e.Underlying
		}
		for _, e := range multierr.Errors(cause) {
			fmt.Fprintf(out, "  - %s\n", e.Error())
		}
		return errors.New(errors.KindValidation, "validation failed")
	}

	if printConfig {
		_, err := out.Write(cfg.Format())
		return err
	}
	fmt.Fprintf(out, "Configuration %s is valid (backend %s)\n", configPath, cfg.Backend)
	return nil
}
