// Package main is the motorctl command.
package main

import (
	"os"

	motorcli "github.com/tocado/motorctl/cli"
	"github.com/tocado/motorctl/logging"
)

func main() {
	app := motorcli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		logging.NewLogger("motorctl").Error(err)
		os.Exit(1)
	}
}
