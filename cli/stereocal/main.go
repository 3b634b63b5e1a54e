// Package main is the stereocal command itself.
package main

import (
	"os"

	"go.viam.com/stereocal/cli"
	"go.viam.com/stereocal/logging"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		logging.NewLogger(app.Name).Error(err)
		os.Exit(1)
	}
}
