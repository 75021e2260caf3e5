package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/shulesoft/ratiba/core/event"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	db      *sqlx.DB
	evtRepo event.Repository
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate - run pending database migrations")
	fmt.Println("  seed -count N - create N demo events")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	seedCmd := flag.NewFlagSet("seed", flag.ExitOnError)
	seedCount := seedCmd.Int("count", 10, "Number of demo events to create.")

	switch args[1] {
	case "migrate":
		return cli.migrate()
	case "seed":
		if err := seedCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.seed(*seedCount)
	default:
		cli.printUsage()
		return errHelp
	}
}
