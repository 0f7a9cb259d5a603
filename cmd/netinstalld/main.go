// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command netinstalld serves the installer's network configuration on the
// bus, on top of NetworkManager or one of the local backends.
package main

import (
	"fmt"
	"os"

	"grimm.is/netinstall/cmd"
)

const usage = `Usage: netinstalld <command> [flags]

Commands:
  serve     publish the network configuration and run until interrupted
  dump      print the current network state as YAML
  validate  check a configuration file

Run 'netinstalld <command> -h' for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = cmd.RunServe(os.Args[2:])
	case "dump":
		err = cmd.RunDump(os.Args[2:], os.Stdout)
	case "validate":
		err = cmd.RunValidate(os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
