package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	dig_container "github.com/trezcool/suriaral/apps/api/di/dig"
	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/accesscode"
	"github.com/trezcool/suriaral/core/account"
	"github.com/trezcool/suriaral/core/identity"
	"github.com/trezcool/suriaral/core/profile"
)

func main() {
	c := dig_container.New()

	var runErr error
	err := c.Invoke(func(
		logger core.Logger,
		storage *dig_container.Storage,
		accounts *account.Service,
		idp identity.Provider,
		profiles *profile.Store,
		codes *accesscode.Gate,
	) {
		defer func() {
			if err := storage.Close(); err != nil {
				logger.Error("closing storage", err)
			}
		}()
		identity.LoadCommonPasswords(logger)

		cli := commandLine{
			accounts: accounts,
			idp:      idp,
			profiles: profiles,
			codes:    codes,
			out:      os.Stdout,
		}
		if storage.DB != nil {
			cli.db = storage.DB.DB
		}
		runErr = cli.run(os.Args)
	})
	if err != nil {
		log.Fatalf("%+v", err)
	}
	if runErr != nil {
		if !errors.Is(runErr, errHelp) {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", runErr)
		}
		os.Exit(1)
	}
}
