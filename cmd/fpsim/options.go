package main

import (
	"bufio"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
	"github.com/rigado/fastpair/adv"
	"github.com/rigado/fastpair/provider"
	"github.com/urfave/cli"
)

var runFlags = []cli.Flag{
	cli.StringFlag{Name: "model-id", Usage: "24-bit model ID in hex", Value: "000000"},
	cli.StringFlag{Name: "anti-spoofing-key", Usage: "base64 or hex 32-byte anti-spoofing private key"},
	cli.StringFlag{Name: "adapter", Usage: "BlueZ adapter", Value: "hci0"},
	storeFlag,
	cli.UintFlag{Name: "rfcomm-channel", Usage: "RFCOMM channel for the message stream", Value: 1},
	cli.StringFlag{Name: "rfcomm-tty", Usage: "serve the message stream on a bound rfcomm tty instead"},
	cli.StringFlag{Name: "firmware", Usage: "firmware revision", Value: provider.DefaultFirmware},
	cli.StringFlag{Name: "battery", Usage: "comma separated battery levels, suffix + for charging, -1 for unknown"},
	cli.BoolFlag{Name: "hide-battery", Usage: "ask seekers not to show battery notifications"},
	cli.BoolFlag{Name: "random-salt", Usage: "advertise a random bloom filter salt"},
	cli.BoolFlag{Name: "remove-bonds", Usage: "remove other bonded phones during initial pairing"},
	cli.BoolFlag{Name: "ui-confirm", Usage: "ask on stdin before accepting matching passkeys"},
}

// simOptions maps run flags onto simulator options.
func simOptions(c *cli.Context) ([]provider.Option, error) {
	id, err := parseModelID(c.String("model-id"))
	if err != nil {
		return nil, err
	}
	opts := []provider.Option{
		provider.OptModelID(id),
		provider.OptFirmwareVersion(c.String("firmware")),
	}

	if s := c.String("anti-spoofing-key"); s != "" {
		key, err := parseKey(s)
		if err != nil {
			return nil, errors.Wrap(err, "anti-spoofing key")
		}
		opts = append(opts, provider.OptAntiSpoofingKey(key))
	}
	if s := c.String("battery"); s != "" {
		values, err := parseBattery(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, provider.OptBattery(values, c.Bool("hide-battery")))
	}
	if c.Bool("random-salt") {
		opts = append(opts, provider.OptRandomSalt())
	}
	if c.Bool("remove-bonds") {
		opts = append(opts, provider.OptRemoveAllDevicesDuringPairing())
	}
	return opts, nil
}

func parseModelID(s string) (uint32, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "model id %q", s)
	}
	return uint32(id), nil
}

// parseKey accepts hex or standard base64.
func parseKey(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// parseBattery reads values like "85+,70,-1".
func parseBattery(s string) ([]adv.Battery, error) {
	var out []adv.Battery
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		b := adv.Battery{Charging: strings.HasSuffix(f, "+")}

		lvl, err := strconv.Atoi(strings.TrimSuffix(f, "+"))
		if err != nil || lvl > 100 {
			return nil, errors.Errorf("bad battery value %q", f)
		}
		b.Level = lvl
		out = append(out, b)
	}
	return out, nil
}

// stdinConfirmer asks the operator about every matching passkey. Answers
// are read in order from r.
func stdinConfirmer(r io.Reader, w io.Writer) provider.PasskeyConfirmer {
	answers := make(chan bool)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			answers <- strings.HasPrefix(strings.ToLower(strings.TrimSpace(sc.Text())), "y")
		}
		close(answers)
	}()

	return func(dev fastpair.Addr, passkey uint32, confirm func(bool)) {
		fmt.Fprintf(w, "pair with %v using passkey %06d? [y/N] ", dev, passkey)
		go func() {
			ok := <-answers
			confirm(ok)
		}()
	}
}
