// Command fpsim runs a Fast Pair provider on a local adapter and inspects
// Fast Pair state.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
	"github.com/rigado/fastpair/keystore"
	"github.com/urfave/cli"
)

var storeFlag = cli.StringFlag{
	Name:  "store",
	Usage: "account key store file, in-memory when empty",
}

func main() {
	app := cli.NewApp()
	app.Name = "fpsim"
	app.Usage = "Fast Pair provider simulator"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "panic, fatal, error, warn, info, debug or trace",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "text or json",
		},
	}
	app.Before = func(c *cli.Context) error {
		if err := fastpair.SetLogFormat(c.GlobalString("log-format")); err != nil {
			return err
		}
		return fastpair.SetLogLevel(c.GlobalString("log-level"))
	}
	app.Commands = []cli.Command{
		runCommand,
		keysCommand,
		inspectCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(c *cli.Context) (*keystore.Store, error) {
	var backend keystore.Backend
	if path := c.String("store"); path != "" {
		backend = keystore.NewFileBackend(path)
	}
	return keystore.New(backend, 0)
}

// withSigHandler cancels ctx on SIGINT or SIGTERM.
func withSigHandler(ctx context.Context, cancel func()) context.Context {
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sig)

		select {
		case <-sig:
			fastpair.GetLogger().Info("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

func chkErr(err error) error {
	switch errors.Cause(err) {
	case nil, context.Canceled:
		return nil
	default:
		return err
	}
}
