package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/accesscode"
	"github.com/trezcool/suriaral/core/account"
	"github.com/trezcool/suriaral/core/identity"
	"github.com/trezcool/suriaral/core/profile"
)

// cliActor is recorded as the actor of every change made from the command line.
const cliActor = "admin-cli"

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	accounts *account.Service
	idp      identity.Provider
	profiles *profile.Store
	codes    *accesscode.Gate
	db       *sql.DB // nil unless the store is postgres
	out      io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  adduser -email EMAIL -role ROLE [-name NAME] [-school ID] [-superadmin] - create or update an account")
	fmt.Fprintln(cli.out, "  resetpassword -email EMAIL - reset an account's password and sign it out")
	fmt.Fprintln(cli.out, "  setrole -email EMAIL -role ROLE [-allow PERMS] [-deny PERMS] [-reset] - change role and overrides")
	fmt.Fprintln(cli.out, "  disable -email EMAIL [-enable] - disable (or enable) an account")
	fmt.Fprintln(cli.out, "  gencode -role ROLE [-school ID] [-label LABEL] [-code CODE] [-expires DURATION] - create an access code")
	fmt.Fprintln(cli.out, "  purge - hard-delete faculty records past their restore window")
	fmt.Fprintln(cli.out, "  reconcile - repair the faculty records of every faculty account")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (postgres storage only)")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()
	cmd, rest := args[1], args[2:]

	switch cmd {
	case "adduser":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		email := fs.String("email", "", "The account's email. The password will be prompted next.")
		name := fs.String("name", "", "The display name (defaults to the email's local part).")
		role := fs.String("role", "", "One of "+rolesHelp()+".")
		school := fs.String("school", "", "The school ID, required for teachers and students.")
		superAdmin := fs.Bool("superadmin", false, "Grant every permission, whatever the role.")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *email == "" || *role == "" {
			fs.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(fs)
		if err != nil {
			return err
		}
		return cli.addUser(ctx, newUserArgs{
			email: *email, name: *name, role: *role, school: *school, superAdmin: *superAdmin, pwd: pwd,
		})

	case "resetpassword":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		email := fs.String("email", "", "The account's email. The password will be prompted next.")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *email == "" {
			fs.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(fs)
		if err != nil {
			return err
		}
		return cli.resetPassword(ctx, *email, pwd)

	case "setrole":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		email := fs.String("email", "", "The account's email.")
		role := fs.String("role", "", "One of "+rolesHelp()+".")
		allow := fs.String("allow", "", "Comma separated permissions to grant explicitly.")
		deny := fs.String("deny", "", "Comma separated permissions to deny explicitly.")
		reset := fs.Bool("reset", false, "Drop the existing overrides first.")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *email == "" || *role == "" {
			fs.Usage()
			return errHelp
		}
		return cli.setRole(ctx, *email, *role, *allow, *deny, *reset)

	case "disable":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		email := fs.String("email", "", "The account's email.")
		enable := fs.Bool("enable", false, "Enable the account instead.")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *email == "" {
			fs.Usage()
			return errHelp
		}
		return cli.setDisabled(ctx, *email, !*enable)

	case "gencode":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		role := fs.String("role", "", "The role granted by the code, one of "+rolesHelp()+".")
		school := fs.String("school", "", "The school the code binds accounts to.")
		label := fs.String("label", "", "A free text label.")
		code := fs.String("code", "", "The code itself (random when empty).")
		expires := fs.Duration("expires", 0, "Validity, e.g. 720h (never expires when 0).")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *role == "" {
			fs.Usage()
			return errHelp
		}
		return cli.generateCode(ctx, *role, *school, *label, *code, *expires)

	case "purge":
		return cli.purge(ctx)

	case "reconcile":
		return cli.reconcile(ctx)

	case "migrate":
		if len(rest) == 0 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, rest)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword(fs *flag.FlagSet) (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(os.Stdin.Fd()))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		fs.Usage()
		return "", errHelp
	}
	return string(pwd), nil
}

func (cli *commandLine) uidOf(ctx context.Context, email string) (string, error) {
	ident, err := cli.idp.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	return ident.UID, nil
}

func rolesHelp() string {
	roles := make([]string, 0, len(access.AllRoles))
	for _, r := range access.AllRoles {
		roles = append(roles, r.String())
	}
	return strings.Join(roles, ", ")
}

func parseExpiry(d time.Duration) *time.Time {
	if d <= 0 {
		return nil
	}
	t := time.Now().Add(d).UTC()
	return &t
}
