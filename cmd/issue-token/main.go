// Command issue-token prints a bearer token for a directory user.
//
//	issue-token -email admin@example.com
//	curl -H "Authorization: Bearer $(issue-token -email admin@example.com)" localhost:8080/api/policies
//
// It reads the same configuration as the server so the signing key and
// store match. When the directory is empty the bootstrap admin is created
// first, which makes the command usable on a fresh database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/warp/cession-engine/api"
	"github.com/warp/cession-engine/config"
	"github.com/warp/cession-engine/directory"
	"github.com/warp/cession-engine/ledger"
	"github.com/warp/cession-engine/logger"
	"github.com/warp/cession-engine/store/postgres"
	"github.com/warp/cession-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	email := flag.String("email", "", "Email of the user to issue a token for (default: bootstrap admin)")
	flag.Parse()

	if err := run(*configPath, *email); err != nil {
		fmt.Fprintf(os.Stderr, "issue-token: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, email string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ctx := context.Background()

	var st ledger.TxStore
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer s.Close()
		st = s
	case config.DriverPostgres:
		s, err := postgres.New(ctx, postgres.Config{URL: cfg.Database.URL, MaxConns: 2})
		if err != nil {
			return err
		}
		defer s.Close()
		st = s
	default:
		return fmt.Errorf("driver %q keeps no users between processes", cfg.Database.Driver)
	}

	uow := ledger.NewUnitOfWork(st, cfg.Database.OperationTimeout)
	users := directory.NewUsers(uow, ledger.NewAuditRecorder(st), logger.Nop().Named("directory"))
	if _, err := users.EnsureBootstrapAdmin(ctx, cfg.Bootstrap.AdminName, cfg.Bootstrap.AdminEmail); err != nil {
		return err
	}

	if email == "" {
		email = cfg.Bootstrap.AdminEmail
	}
	user, err := users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}

	token, expires, err := api.GenerateToken(api.TokenConfig{
		SigningKey: []byte(cfg.Auth.SigningKey),
		Issuer:     cfg.Auth.Issuer,
		ExpiresIn:  cfg.Auth.TokenTTL,
	}, *user)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "token for %s (%s) expires %s\n", user.Email, user.Role, expires.Format("2006-01-02 15:04 MST"))
	fmt.Println(token)
	return nil
}
