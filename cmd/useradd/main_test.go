package main

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/trailence/trailence-back-sub001/internal/crypto"
	"github.com/trailence/trailence-back-sub001/internal/errs"
	"github.com/trailence/trailence-back-sub001/internal/repository/memory"
	"github.com/trailence/trailence-back-sub001/internal/service"
)

func TestParse(t *testing.T) {
	t.Setenv("TRAILENCE_AUTH_DSN", "")

	_, err := parse([]string{"--email", "a@x.io"})
	require.ErrorContains(t, err, "dsn")

	_, err = parse([]string{"--dsn", "postgres://x"})
	require.ErrorContains(t, err, "email")

	_, err = parse([]string{"--dsn", "postgres://x", "--email", "a@x.io", "--password", "p", "--password-stdin"})
	require.Error(t, err)

	t.Setenv("TRAILENCE_AUTH_DSN", "postgres://env")
	o, err := parse([]string{"--email", "a@x.io", "--password", "p"})
	require.NoError(t, err)
	require.Equal(t, "postgres://env", o.dsn)

	o, err = parse([]string{"--dsn", "postgres://flag", "--email", "a@x.io"})
	require.NoError(t, err)
	require.Equal(t, "postgres://flag", o.dsn)
}

func TestReadPassword(t *testing.T) {
	p, err := readPassword(strings.NewReader("s3cret\r\nignored\n"))
	require.NoError(t, err)
	require.Equal(t, "s3cret", p)

	p, err = readPassword(strings.NewReader("no-newline"))
	require.NoError(t, err)
	require.Equal(t, "no-newline", p)
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	users := memory.NewUserRepo()
	prefs := memory.NewPreferencesRepo()
	auth := service.NewAuthService(service.AuthDeps{
		Users:  users,
		Keys:   memory.NewDeviceKeyRepo(),
		Prefs:  prefs,
		Hasher: crypto.NewArgon2Hasher(nil),
		Log:    zaptest.NewLogger(t),
	})

	o := &options{email: "New@Example.com", password: "pw", lang: "de"}
	require.NoError(t, add(ctx, auth, prefs, o))

	u, err := users.GetByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(u.PasswordHash, "argon2id$"))
	require.True(t, crypto.NewArgon2Hasher(nil).Verify("pw", u.PasswordHash))

	p, err := prefs.Get(ctx, "new@example.com")
	require.NoError(t, err)
	require.Equal(t, "de", *p.Lang)
	require.Nil(t, p.Alias)

	require.ErrorIs(t, add(ctx, auth, prefs, o), errs.ErrAlreadyExists)
}
