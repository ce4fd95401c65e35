//go:build !linux
// +build !linux

package main

import (
	"github.com/urfave/cli"
)

var runCommand = cli.Command{
	Name:  "run",
	Usage: "act as a Fast Pair provider (linux only)",
	Action: func(c *cli.Context) error {
		return cli.NewExitError("the provider needs BlueZ and runs on linux only", 1)
	},
}
