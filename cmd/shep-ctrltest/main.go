// Package main for shep-ctrltest, a small urfave/cli exerciser for the
// control protocol: every subcommand opens one connection, issues one
// request, and prints the result. Grounded on cmd/cli's cli.Command
// layering (one Command per verb, an Action returning error) over a
// dedicated client package, here ctlclient instead of api.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/holmesengine/shepherd/ctlclient"
	"github.com/urfave/cli"
)

var addrFlag = cli.StringFlag{
	Name:  "addr",
	Usage: "daemon control address, host:port",
	Value: "127.0.0.1:8187",
}

func main() {
	app := cli.NewApp()
	app.Name = "shep-ctrltest"
	app.Usage = "exercise a running shep daemon's control protocol"
	app.Flags = []cli.Flag{addrFlag}
	app.Commands = []cli.Command{
		{Name: "ping", Usage: "round-trip CMD_PING", Action: withClient(pingHandler)},
		{Name: "set-cleanup", Usage: "set-cleanup <true|false>", ArgsUsage: "true|false", Action: withClient(setFlagHandler((*ctlclient.Client).SetCleanup))},
		{Name: "set-idle", Usage: "set-idle <true|false>", ArgsUsage: "true|false", Action: withClient(setFlagHandler((*ctlclient.Client).SetIdle))},
		{Name: "set-private", Usage: "set-private <true|false>", ArgsUsage: "true|false", Action: withClient(setFlagHandler((*ctlclient.Client).SetPrivate))},
		{Name: "set-delete-old", Usage: "set-delete-old <true|false>", ArgsUsage: "true|false", Action: withClient(setFlagHandler((*ctlclient.Client).SetDeleteOld))},
		{Name: "lock", Usage: "lock <state>", ArgsUsage: "state", Action: withClient(lockHandler)},
		{Name: "unlock", Usage: "release every lock held by this connection", Action: withClient(unlockHandler)},
		{Name: "borrow", Usage: "borrow <state> [--wait]", ArgsUsage: "state", Flags: []cli.Flag{cli.BoolFlag{Name: "wait"}}, Action: withClient(borrowHandler)},
		{Name: "return", Usage: "return <state> <token>", ArgsUsage: "state token", Action: withClient(returnHandler)},
		{Name: "rollback", Usage: "rollback <state> <token>", ArgsUsage: "state token", Action: withClient(rollbackHandler)},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "shep-ctrltest: %v\n", err)
		os.Exit(1)
	}
}

func withClient(fn func(*cli.Context, *ctlclient.Client) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cl, err := ctlclient.Dial(c.GlobalString(addrFlag.Name), 5*time.Second)
		if err != nil {
			return err
		}
		defer cl.Close()
		return fn(c, cl)
	}
}

func pingHandler(_ *cli.Context, cl *ctlclient.Client) error {
	if err := cl.Ping(); err != nil {
		return err
	}
	fmt.Println("pong")
	return nil
}

func setFlagHandler(set func(*ctlclient.Client, bool) error) func(*cli.Context, *ctlclient.Client) error {
	return func(c *cli.Context, cl *ctlclient.Client) error {
		if c.NArg() != 1 {
			return fmt.Errorf("expected exactly one argument, true or false")
		}
		v, err := parseBool(c.Args().First())
		if err != nil {
			return err
		}
		return set(cl, v)
	}
}

func parseBool(s string) (bool, error) {
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("expected true or false, got %q", s)
	}
}

func lockHandler(c *cli.Context, cl *ctlclient.Client) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one argument, the state name")
	}
	return cl.LockState(c.Args().First())
}

func unlockHandler(_ *cli.Context, cl *ctlclient.Client) error {
	return cl.UnlockStates()
}

func borrowHandler(c *cli.Context, cl *ctlclient.Client) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one argument, the state name")
	}
	token, err := cl.BorrowState(c.Args().First(), c.Bool("wait"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func returnHandler(c *cli.Context, cl *ctlclient.Client) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected two arguments, state and token")
	}
	return cl.ReturnState(c.Args().Get(0), c.Args().Get(1))
}

func rollbackHandler(c *cli.Context, cl *ctlclient.Client) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected two arguments, state and token")
	}
	return cl.RollbackState(c.Args().Get(0), c.Args().Get(1))
}
