package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/account"
	"github.com/trezcool/suriaral/core/identity"
	"github.com/trezcool/suriaral/core/profile"
)

type newUserArgs struct {
	email, name, role, school string
	superAdmin                bool
	pwd                       string
}

// addUser creates the account, or updates the password and role of an existing one.
func (cli *commandLine) addUser(ctx context.Context, args newUserArgs) error {
	role, err := access.ParseRole(args.role)
	if err != nil {
		return err
	}

	var uid string
	ident, err := cli.idp.GetByEmail(ctx, args.email)
	switch {
	case err == nil:
		uid = ident.UID
		if err = cli.idp.SetPassword(ctx, uid, args.pwd); err != nil {
			return err
		}
		if _, err = cli.accounts.SetRole(ctx, uid, role, nil, cliActor); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "account %s updated\n", args.email)

	case errors.Is(err, identity.ErrNotFound):
		name := args.name
		if name == "" {
			name = strings.SplitN(args.email, "@", 2)[0]
		}
		p, err := cli.accounts.Provision(ctx, account.NewUser{
			NewAccount: identity.NewAccount{Email: args.email, Password: args.pwd, DisplayName: name},
			Role:       role,
			SchoolID:   null.NewString(args.school, args.school != ""),
		}, cliActor)
		if err != nil {
			return err
		}
		uid = p.UID
		fmt.Fprintf(cli.out, "account %s created (%s)\n", p.Email, p.UID)

	default:
		return err
	}

	if args.superAdmin {
		superAdmin := true
		if err := cli.profiles.Update(ctx, uid, profile.Fields{IsSuperAdmin: &superAdmin}); err != nil {
			return err
		}
	}
	return nil
}

func (cli *commandLine) resetPassword(ctx context.Context, email, pwd string) error {
	uid, err := cli.uidOf(ctx, email)
	if err != nil {
		return err
	}
	if err = cli.idp.SetPassword(ctx, uid, pwd); err != nil {
		return err
	}
	if err = cli.idp.SignOut(ctx, uid); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "password of %s reset\n", email)
	return nil
}

func (cli *commandLine) setRole(ctx context.Context, email, roleName, allow, deny string, reset bool) error {
	role, err := access.ParseRole(roleName)
	if err != nil {
		return err
	}
	uid, err := cli.uidOf(ctx, email)
	if err != nil {
		return err
	}

	var overrides *access.Overrides
	if reset || allow != "" || deny != "" {
		o := access.Overrides{}
		if !reset {
			p, err := cli.profiles.Get(ctx, uid)
			if err != nil {
				return err
			}
			o = p.Overrides.Clone()
			if o == nil {
				o = access.Overrides{}
			}
		}
		if err := setGrants(o, allow, access.Allow); err != nil {
			return err
		}
		if err := setGrants(o, deny, access.Deny); err != nil {
			return err
		}
		overrides = &o
	}

	outcome, err := cli.accounts.SetRole(ctx, uid, role, overrides, cliActor)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "role of %s: %s\n", email, outcome)
	return nil
}

func setGrants(o access.Overrides, list string, g access.Grant) error {
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		perm, err := access.ParsePermission(s)
		if err != nil {
			return err
		}
		o.Set(perm, g)
	}
	return nil
}

func (cli *commandLine) setDisabled(ctx context.Context, email string, disabled bool) error {
	uid, err := cli.uidOf(ctx, email)
	if err != nil {
		return err
	}
	outcome, err := cli.accounts.SetDisabled(ctx, uid, disabled, cliActor)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "disabled=%t for %s: %s\n", disabled, email, outcome)
	return nil
}
