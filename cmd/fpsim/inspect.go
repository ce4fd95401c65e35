package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
	"github.com/rigado/fastpair/adv"
	"github.com/urfave/cli"
)

var inspectCommand = cli.Command{
	Name:  "inspect",
	Usage: "decode a Fast Pair advertisement",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "adv", Usage: "hex advertising data, including the AD structure headers"},
		cli.StringFlag{Name: "service-data", Usage: "hex Fast Pair service data"},
		cli.StringSliceFlag{Name: "key", Usage: "hex account key to test against the filter, repeatable"},
		cli.StringFlag{Name: "address", Usage: "provider BLE address, the filter salt when none is advertised"},
	},
	Action: func(c *cli.Context) error {
		sd, err := serviceDataArg(c.String("adv"), c.String("service-data"))
		if err != nil {
			return err
		}

		var keys [][]byte
		for _, s := range c.StringSlice("key") {
			k, err := hex.DecodeString(s)
			if err != nil {
				return errors.Wrapf(err, "key %v", s)
			}
			keys = append(keys, k)
		}

		var salt []byte
		if a := c.String("address"); a != "" {
			addr, err := fastpair.ParseAddr(a)
			if err != nil {
				return err
			}
			salt = addr.Bytes()
		}

		return describe(os.Stdout, sd, keys, salt)
	},
}

func serviceDataArg(advHex, sdHex string) ([]byte, error) {
	switch {
	case sdHex != "":
		return hex.DecodeString(sdHex)
	case advHex == "":
		return nil, cli.NewExitError("one of --adv or --service-data is required", 2)
	}

	b, err := hex.DecodeString(advHex)
	if err != nil {
		return nil, errors.Wrap(err, "adv")
	}
	p, err := adv.Parse(b)
	if err != nil {
		return nil, err
	}
	sd, ok := p.ServiceData(adv.ServiceUUID)
	if !ok {
		return nil, errors.New("no Fast Pair service data")
	}
	return sd, nil
}

func describe(w io.Writer, raw []byte, keys [][]byte, addrSalt []byte) error {
	sd, err := adv.DecodeServiceData(raw)
	if err != nil {
		return err
	}

	if !sd.AccountKeyData {
		fmt.Fprintf(w, "model id: %x\n", sd.ModelID)
	} else {
		fmt.Fprintf(w, "account key filter: %x (hide ui: %v)\n", sd.Filter, sd.FilterHideUI)
	}
	if sd.Salt != nil {
		fmt.Fprintf(w, "salt: %x\n", sd.Salt)
	}
	for i, b := range sd.Battery {
		fmt.Fprintf(w, "battery %d: level %d charging %v (hide ui: %v)\n", i, b.Level, b.Charging, sd.BatteryHideUI)
	}

	if !sd.AccountKeyData || len(keys) == 0 {
		return nil
	}

	salt := sd.Salt
	if salt == nil {
		if addrSalt == nil {
			return errors.New("the filter is salted with the provider address, pass --address")
		}
		salt = addrSalt
	}
	for _, k := range keys {
		fmt.Fprintf(w, "key %x: %v\n", k, adv.MightContain(sd.Filter, k, salt, sd.BatteryFrame))
	}
	return nil
}
