// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Command clientjobs is a maintenance utility for the client-jobs
// coordination store.
package main

import (
	"fmt"
	"os"

	"github.com/juju/gnuflag"

	"github.com/juju/clientjobs"
	"github.com/juju/clientjobs/domain/schema"
)

func main() {
	os.Exit(Main(os.Args[1:]))
}

// Main runs the utility against the input arguments and returns the
// process exit code.
func Main(args []string) int {
	flags := gnuflag.NewFlagSet("clientjobs", gnuflag.ContinueOnError)
	flags.SetOutput(os.Stderr)

	getDBName := flags.Bool("getDBName", false, "print the database namespace and exit")
	configPath := flags.String("config", "", "path to the YAML store configuration")
	nameSuffix := flags.String("nameSuffix", "", "database name suffix (overrides the configuration)")

	if err := flags.Parse(true, args); err != nil {
		if err == gnuflag.ErrHelp {
			return 0
		}
		return 2
	}

	suffix := *nameSuffix
	if *configPath != "" {
		cfg, err := clientjobs.ReadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if suffix == "" {
			suffix = cfg.Database.NameSuffix
		}
	}

	if *getDBName {
		fmt.Println(schema.DatabaseName(suffix))
		return 0
	}

	fmt.Fprintln(os.Stderr, "usage: clientjobs --getDBName [--config <path>] [--nameSuffix <suffix>]")
	return 2
}
