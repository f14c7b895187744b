// Command trailence-useradd creates an account in the PostgreSQL store so the
// account can bootstrap devices with a password login.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/trailence/trailence-back-sub001/internal/config"
	"github.com/trailence/trailence-back-sub001/internal/crypto"
	"github.com/trailence/trailence-back-sub001/internal/migrate"
	"github.com/trailence/trailence-back-sub001/internal/model"
	"github.com/trailence/trailence-back-sub001/internal/repository"
	"github.com/trailence/trailence-back-sub001/internal/repository/postgres"
	"github.com/trailence/trailence-back-sub001/internal/service"
)

type options struct {
	dsn           string
	email         string
	password      string
	passwordStdin bool
	lang          string
	alias         string
}

func parse(args []string) (*options, error) {
	fs := pflag.NewFlagSet("trailence-useradd", pflag.ContinueOnError)
	fs.String("dsn", "", "PostgreSQL DSN (env "+config.EnvPrefix+"_DSN)")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	stdin := fs.Bool("password-stdin", false, "read the password from the first line of stdin")
	lang := fs.String("lang", "", "preferred language")
	alias := fs.String("alias", "", "display alias")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	if err := v.BindPFlag("dsn", fs.Lookup("dsn")); err != nil {
		return nil, err
	}

	o := &options{
		dsn:           v.GetString("dsn"),
		email:         *email,
		password:      *password,
		passwordStdin: *stdin,
		lang:          *lang,
		alias:         *alias,
	}
	if o.dsn == "" {
		return nil, errors.New("--dsn is required")
	}
	if o.email == "" {
		return nil, errors.New("--email is required")
	}
	if o.password != "" && o.passwordStdin {
		return nil, errors.New("use either --password or --password-stdin")
	}
	return o, nil
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// preferences returns nil when no preference flag was given.
func (o *options) preferences() *model.Preferences {
	if o.lang == "" && o.alias == "" {
		return nil
	}
	p := &model.Preferences{}
	if o.lang != "" {
		p.Lang = &o.lang
	}
	if o.alias != "" {
		p.Alias = &o.alias
	}
	return p
}

// add registers the account and stores its preferences.
func add(ctx context.Context, auth service.AuthService, prefs repository.PreferencesRepository, o *options) error {
	if err := auth.Register(ctx, o.email, o.password); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if p := o.preferences(); p != nil {
		if err := prefs.Put(ctx, service.NormalizeEmail(o.email), *p); err != nil {
			return fmt.Errorf("preferences: %w", err)
		}
	}
	return nil
}

func main() {
	o, err := parse(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if o.passwordStdin {
		if o.password, err = readPassword(os.Stdin); err != nil {
			fmt.Fprintln(os.Stderr, "read password:", err)
			os.Exit(1)
		}
	}

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := migrate.Up(ctx, o.dsn, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}
	db, err := postgres.New(ctx, o.dsn)
	if err != nil {
		logger.Fatal("postgres pool", zap.Error(err))
	}
	defer db.Close()

	prefs := postgres.NewPreferencesRepo(db)
	auth := service.NewAuthService(service.AuthDeps{
		Users:  postgres.NewUserRepo(db),
		Keys:   postgres.NewDeviceKeyRepo(db),
		Prefs:  prefs,
		Hasher: crypto.NewArgon2Hasher(crypto.DefaultRandom),
		Log:    logger,
	})
	if err := add(ctx, auth, prefs, o); err != nil {
		logger.Error("useradd failed", zap.Error(err))
		db.Close()
		os.Exit(1)
	}
	fmt.Printf("created %s\n", service.NormalizeEmail(o.email))
}
