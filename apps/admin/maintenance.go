package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/accesscode"
	"github.com/trezcool/suriaral/storage/kv/pgstore"
)

var migrateFunc = pgstore.Migrate // mockable

var errNoDatabase = errors.New("migrations need the postgres storage driver")

func (cli *commandLine) generateCode(ctx context.Context, roleName, school, label, code string, expires time.Duration) error {
	role, err := access.ParseRole(roleName)
	if err != nil {
		return err
	}
	nc := accesscode.NewAccessCode{
		Code:     code,
		Role:     role,
		Label:    label,
		SchoolID: null.NewString(school, school != ""),
	}
	if exp := parseExpiry(expires); exp != nil {
		nc.ExpiresAt = null.TimeFrom(*exp)
	}
	ac, err := cli.codes.Create(ctx, nc, cliActor)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "access code %s (%s) grants %s\n", ac.Code, ac.ID, ac.Role)
	return nil
}

func (cli *commandLine) purge(ctx context.Context) error {
	n, err := cli.accounts.PurgeExpiredFaculty(ctx)
	fmt.Fprintf(cli.out, "purged %d faculty record(s)\n", n)
	return err
}

func (cli *commandLine) reconcile(ctx context.Context) error {
	report, err := cli.accounts.Reconcile(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "checked %d, repaired %d, failed %d\n", report.Checked, report.Repaired, report.Failed)
	if report.Failed > 0 {
		return errors.Errorf("%d faculty account(s) could not be reconciled", report.Failed)
	}
	return nil
}

func (cli *commandLine) migrate(ctx context.Context, args []string) error {
	if cli.db == nil {
		return errNoDatabase
	}
	return runMigration(ctx, cli.db, args[0], args[1:]...)
}

func runMigration(ctx context.Context, db *sql.DB, command string, args ...string) error {
	if err := migrateFunc(ctx, db, command, args...); err != nil {
		return errors.Wrapf(err, "migrate %s", command)
	}
	return nil
}
