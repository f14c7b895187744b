// Command trailence is the device client: it registers a device key with a
// password login and afterwards renews sessions by signing server challenges.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/trailence/trailence-back-sub001/internal/api"
	"github.com/trailence/trailence-back-sub001/internal/crypto/clientcrypto"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// ---- utils ----

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// passphrase reads the key passphrase from the named environment variable.
func passphrase(envName string) []byte {
	if envName == "" {
		return nil
	}
	return []byte(os.Getenv(envName))
}

func usage(w io.Writer) {
	fmt.Fprint(w, `trailence CLI
Usage:
  trailence [--addr URL] [--cacert file | --insecure] <cmd> [args]

Commands:
  version
  login   --email <email> [--password <pw> | --password-stdin] [--alg rsa|ecdsa|ed25519]
          [--passphrase-env VAR] [--device-info JSON] [--expires-in 1h]
  renew   [--passphrase-env VAR]
  keys
  revoke  --id <key id>
`)
}

// ---- commands ----

type app struct {
	c      *client
	stdin  io.Reader
	stdout io.Writer
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	pwStdin := fs.Bool("password-stdin", false, "read the password from stdin")
	alg := fs.String("alg", clientcrypto.AlgRSA, "device key algorithm: rsa, ecdsa or ed25519")
	passEnv := fs.String("passphrase-env", "", "environment variable holding a passphrase to seal the device key")
	info := fs.String("device-info", "", "device metadata JSON")
	expiresIn := fs.Duration("expires-in", 0, "requested token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("--email is required")
	}
	if *pwStdin {
		pw, err := readLine(a.stdin)
		if err != nil {
			return err
		}
		*password = pw
	}
	var deviceInfo json.RawMessage
	if *info != "" {
		if !json.Valid([]byte(*info)) {
			return errors.New("--device-info must be valid JSON")
		}
		deviceInfo = json.RawMessage(*info)
	}

	signer, err := clientcrypto.GenerateKey(*alg)
	if err != nil {
		return err
	}
	pub, err := clientcrypto.PublicKeyDER(signer)
	if err != nil {
		return err
	}

	sess, err := a.c.login(ctx, api.LoginRequest{
		Email:      *email,
		Password:   *password,
		PublicKey:  pub,
		DeviceInfo: deviceInfo,
		ExpiresIn:  int64(expiresIn.Seconds()),
	})
	if err != nil {
		if isForbidden(err) {
			return errors.New("login refused: bad credentials")
		}
		return err
	}

	pass := passphrase(*passEnv)
	if err := saveKey(signer, pass); err != nil {
		return fmt.Errorf("save device key: %w", err)
	}
	if err := saveDevice(deviceFile{Email: sess.Email, KeyID: sess.KeyID, Alg: *alg, Sealed: len(pass) > 0}); err != nil {
		return err
	}
	if err := saveToken(sess.AccessToken, sess.ExpiresAt()); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "logged in as %s, device key %s\n", sess.Email, sess.KeyID)
	return nil
}

func (a *app) renew(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("renew", pflag.ContinueOnError)
	passEnv := fs.String("passphrase-env", "", "environment variable holding the device key passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	dev, err := loadDevice()
	if err != nil {
		return err
	}
	signer, err := loadKey(dev.Sealed, passphrase(*passEnv))
	if err != nil {
		return fmt.Errorf("load device key: %w", err)
	}

	challenge, err := a.c.initRenew(ctx, dev.Email, dev.KeyID)
	if err != nil {
		if isForbidden(err) {
			return errors.New("device key is no longer accepted; login again")
		}
		return err
	}
	sig, err := clientcrypto.SignRenewal(signer, dev.Email, challenge)
	if err != nil {
		return err
	}
	sess, err := a.c.renew(ctx, api.RenewRequest{Email: dev.Email, KeyID: dev.KeyID, Random: challenge, Signature: sig})
	if err != nil {
		if isForbidden(err) {
			return errors.New("renewal refused; login again")
		}
		return err
	}
	if err := saveToken(sess.AccessToken, sess.ExpiresAt()); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "session renewed until %s\n", sess.ExpiresAt().Format(time.RFC3339))
	return nil
}

func (a *app) authorize() error {
	tok, err := loadToken()
	if err != nil {
		return err
	}
	a.c.bearer = tok
	return nil
}

func (a *app) keys(ctx context.Context, _ []string) error {
	if err := a.authorize(); err != nil {
		return err
	}
	keys, err := a.c.keys(ctx)
	if err != nil {
		return err
	}
	printJSON(a.stdout, keys)
	return nil
}

func (a *app) revoke(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("revoke", pflag.ContinueOnError)
	id := fs.String("id", "", "device key id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("--id is required")
	}
	if err := a.authorize(); err != nil {
		return err
	}
	if err := a.c.revoke(ctx, *id); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "revoked %s\n", *id)
	return nil
}

// run dispatches subcommands and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("trailence", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "https://localhost:8080", "server base URL")
	caPath := fs.String("cacert", "", "CA cert (PEM)")
	insecure := fs.Bool("insecure", false, "skip cert verify (dev)")
	fs.Usage = func() { usage(stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		usage(stderr)
		return 2
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	if cmd == "version" {
		fmt.Fprintf(stdout, "trailence %s (%s)\n", version, buildDate)
		return 0
	}

	c, err := newClient(*addr, *caPath, *insecure)
	if err != nil {
		fmt.Fprintln(stderr, "tls:", err)
		return 1
	}
	a := &app{c: c, stdin: stdin, stdout: stdout}
	cmds := map[string]func(context.Context, []string) error{
		"login":  a.login,
		"renew":  a.renew,
		"keys":   a.keys,
		"revoke": a.revoke,
	}
	fn, ok := cmds[cmd]
	if !ok {
		usage(stderr)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := fn(ctx, rest); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, cmd+":", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
