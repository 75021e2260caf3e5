package main

import "github.com/shulesoft/ratiba/storage/database"

func (cli *commandLine) migrate() error {
	return database.Migrate(cli.db.DB)
}
