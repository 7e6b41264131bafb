// Command useradmin manages accounts and roles directly against the
// configured document backend. Intended for bootstrap and maintenance, not
// for serving traffic.
//
// Usage:
//
//	useradmin [flags] create-user <username> [email]
//	useradmin [flags] create-role <name>
//	useradmin [flags] add-to-role <username> <role>
//
// create-user prompts for the password on the terminal.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/identikit/identikit/internal/docstore"
	"github.com/identikit/identikit/internal/identity"
	"github.com/identikit/identikit/internal/server/config"
	"github.com/identikit/identikit/internal/store"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	args := positionalArgs(os.Args[1:])
	if len(args) == 0 {
		log.Fatal("usage: useradmin [flags] <create-user|create-role|add-to-role> ...")
	}

	session, closeStore, err := openSession(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer func() { _ = closeStore() }()

	switch cmd := args[0]; cmd {
	case "create-user":
		err = createUser(ctx, session, args[1:])
	case "create-role":
		err = createRole(ctx, session, args[1:])
	case "add-to-role":
		err = addToRole(ctx, session, args[1:])
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

func openSession(ctx context.Context, cfg *config.Config) (docstore.Session, func() error, error) {
	switch cfg.Backend {
	case "postgres":
		s, err := docstore.OpenPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		return s.OpenSession(), s.Close, nil
	case "sqlite":
		s, err := docstore.OpenSQLite(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		return s.OpenSession(), s.Close, nil
	case "memory":
		return nil, nil, fmt.Errorf("memory backend has nothing to administer")
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func createUser(ctx context.Context, session docstore.Session, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: create-user <username> [email]")
	}

	accounts, err := store.NewAccountStore(session)
	if err != nil {
		return err
	}

	account, err := identity.NewAccount(args[0])
	if err != nil {
		return err
	}
	if len(args) > 1 {
		account.Email = args[1]
	}
	account.LockoutEnabled = true

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := accounts.SetPasswordHash(account, string(hash)); err != nil {
		return err
	}

	if err := accounts.Create(ctx, account); err != nil {
		return err
	}
	fmt.Printf("created account %s\n", account.ID)
	return nil
}

func createRole(ctx context.Context, session docstore.Session, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: create-role <name>")
	}

	roles, err := store.NewRoleStore(session)
	if err != nil {
		return err
	}
	role, err := identity.NewRole(args[0])
	if err != nil {
		return err
	}
	if err := roles.Create(ctx, role); err != nil {
		return err
	}
	fmt.Printf("created role %s\n", role.ID)
	return nil
}

func addToRole(ctx context.Context, session docstore.Session, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: add-to-role <username> <role>")
	}

	accounts, err := store.NewAccountStore(session)
	if err != nil {
		return err
	}
	account, err := accounts.FindByUserName(ctx, args[0])
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("no account named %q", args[0])
	}
	if err := accounts.AddToRole(account, args[1]); err != nil {
		return err
	}
	if err := accounts.Update(ctx, account); err != nil {
		return err
	}
	fmt.Printf("added %s to role %s\n", account.UserName, args[1])
	return nil
}

// positionalArgs strips the configuration flags (and their values) so only
// the subcommand and its operands remain.
func positionalArgs(args []string) []string {
	flagsWithValue := map[string]struct{}{
		"-a": {}, "-b": {}, "-d": {}, "-s": {}, "-t": {}, "-m": {}, "-l": {},
		"-c": {}, "-config": {},
	}
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if _, ok := flagsWithValue[arg]; ok {
			i++
			continue
		}
		if len(arg) > 0 && arg[0] == '-' {
			continue
		}
		out = append(out, arg)
	}
	return out
}
