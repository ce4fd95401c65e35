package main

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

var keysCommand = cli.Command{
	Name:  "keys",
	Usage: "manage stored account keys",
	Subcommands: []cli.Command{
		{
			Name:   "list",
			Usage:  "print keys, oldest first",
			Flags:  []cli.Flag{storeFlag},
			Action: listKeys,
		},
		{
			Name:      "add",
			Usage:     "store an account key",
			ArgsUsage: "<hex key>",
			Flags:     []cli.Flag{storeFlag},
			Action:    addKey,
		},
		{
			Name:   "clear",
			Usage:  "remove every key and the device name",
			Flags:  []cli.Flag{storeFlag},
			Action: clearKeys,
		},
	},
}

func listKeys(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}

	owners := map[string]string{}
	for _, d := range store.SeekerDevices() {
		owners[hex.EncodeToString(d.AccountKey)] = d.Address
	}
	owner := hex.EncodeToString(store.OwnerKey())

	for _, k := range store.Keys() {
		s := hex.EncodeToString(k)
		if s == owner {
			fmt.Printf("%v  %v (owner)\n", s, owners[s])
			continue
		}
		fmt.Printf("%v  %v\n", s, owners[s])
	}
	if name := store.DeviceName(); name != "" {
		fmt.Printf("device name: %q\n", name)
	}
	return nil
}

func addKey(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("expected one hex key", 2)
	}
	key, err := hex.DecodeString(c.Args().First())
	if err != nil {
		return errors.Wrap(err, "key")
	}

	store, err := openStore(c)
	if err != nil {
		return err
	}
	return store.Add(key)
}

func clearKeys(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	return store.Clear()
}
