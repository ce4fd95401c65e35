//go:build linux
// +build linux

package main

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
	"github.com/rigado/fastpair/linux/bluez"
	"github.com/rigado/fastpair/linux/rfcomm"
	"github.com/rigado/fastpair/provider"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
)

var runCommand = cli.Command{
	Name:   "run",
	Usage:  "act as a Fast Pair provider until interrupted",
	Flags:  runFlags,
	Action: run,
}

func run(c *cli.Context) error {
	logger := fastpair.GetLogger()

	opts, err := simOptions(c)
	if err != nil {
		return err
	}
	if c.Bool("ui-confirm") {
		opts = append(opts, provider.OptPasskeyConfirmer(stdinConfirmer(os.Stdin, os.Stdout)))
	}

	store, err := openStore(c)
	if err != nil {
		return err
	}

	bus, err := bluez.Connect(c.String("adapter"))
	if err != nil {
		return err
	}
	defer bus.Close()

	adapter := bluez.NewAdapter(bus)
	addr, err := adapter.Address()
	if err != nil {
		return err
	}
	// BlueZ advertises LE with the public address
	opts = append(opts, provider.OptBrEdrAddress(addr), provider.OptBLEAddress(addr))

	advertisement, err := bluez.NewAdvertisement(bus)
	if err != nil {
		return err
	}
	defer advertisement.Close()

	app := bluez.NewApplication(bus)
	sim, err := provider.New(adapter, app, store, advertisement, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = withSigHandler(ctx, cancel)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sim.Run(ctx) })

	if err := app.Register(ctx, sim); err != nil {
		cancel()
		return err
	}
	defer app.Unregister()

	agent, err := bluez.RegisterAgent(ctx, bus, sim)
	if err != nil {
		cancel()
		return err
	}
	defer agent.Unregister()

	g.Go(func() error { return adapter.Watch(ctx, sim) })
	g.Go(func() error { return serveStream(ctx, c, addr, sim) })

	logger.Infof("provider %v running on %v", addr, c.String("adapter"))
	return chkErr(g.Wait())
}

// serveStream serves the message stream on a bound tty or an RFCOMM socket.
func serveStream(ctx context.Context, c *cli.Context, local fastpair.Addr, sim *provider.Simulator) error {
	if path := c.String("rfcomm-tty"); path != "" {
		tty, err := rfcomm.OpenTTY(path, rfcomm.DefaultBaudRate)
		if err != nil {
			return err
		}
		return sim.ServeRfcomm(ctx, tty)
	}

	ch := c.Uint("rfcomm-channel")
	if ch == 0 || ch > 30 {
		return errors.Errorf("invalid rfcomm channel %d", ch)
	}
	l, err := rfcomm.Listen(local, uint8(ch))
	if err != nil {
		return err
	}
	defer l.Close()

	return l.Serve(ctx, func(ctx context.Context, conn io.ReadWriteCloser, peer fastpair.Addr) error {
		fastpair.GetLogger().Infof("message stream from %v", peer)
		return sim.ServeRfcomm(ctx, conn)
	})
}
