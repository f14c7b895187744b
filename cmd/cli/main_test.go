package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/trailence/trailence-back-sub001/internal/api"
	"github.com/trailence/trailence-back-sub001/internal/crypto"
	"github.com/trailence/trailence-back-sub001/internal/crypto/clientcrypto"
	"github.com/trailence/trailence-back-sub001/internal/limiter"
	"github.com/trailence/trailence-back-sub001/internal/repository/memory"
	httpserver "github.com/trailence/trailence-back-sub001/internal/server/http"
	"github.com/trailence/trailence-back-sub001/internal/service"
	"github.com/trailence/trailence-back-sub001/internal/token"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "trailence")
}

func Test_cfgDir_And_Paths(t *testing.T) {
	base := withTmpConfig(t)
	require.Equal(t, base, cfgDir())
	require.Equal(t, filepath.Join(base, "token.json"), tokenPath())
	require.Equal(t, filepath.Join(base, "device.json"), devicePath())
	require.Equal(t, filepath.Join(base, "device.key"), keyPath())
}

func Test_token_SaveLoad(t *testing.T) {
	_ = withTmpConfig(t)

	_, err := loadToken()
	require.Error(t, err, "token file missing")

	require.NoError(t, saveToken("tok", time.Now().Add(time.Minute)))
	tok, err := loadToken()
	require.NoError(t, err)
	require.Equal(t, "tok", tok)

	require.NoError(t, saveToken("tok2", time.Now().Add(-time.Minute)))
	_, err = loadToken()
	require.Error(t, err, "expired token")

	st, err := os.Stat(tokenPath())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), st.Mode().Perm())
}

func Test_device_SaveLoad(t *testing.T) {
	_ = withTmpConfig(t)

	_, err := loadDevice()
	require.ErrorContains(t, err, "login first")

	want := deviceFile{Email: "a@x.io", KeyID: "id", Alg: "ed25519", Sealed: true}
	require.NoError(t, saveDevice(want))
	got, err := loadDevice()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func Test_key_SaveLoad(t *testing.T) {
	_ = withTmpConfig(t)
	s, err := clientcrypto.GenerateKey(clientcrypto.AlgEd25519)
	require.NoError(t, err)
	pub, err := clientcrypto.PublicKeyDER(s)
	require.NoError(t, err)

	require.NoError(t, saveKey(s, nil))
	got, err := loadKey(false, nil)
	require.NoError(t, err)
	gotPub, err := clientcrypto.PublicKeyDER(got)
	require.NoError(t, err)
	require.Equal(t, pub, gotPub)

	require.NoError(t, saveKey(s, []byte("pass")))
	raw, err := os.ReadFile(keyPath())
	require.NoError(t, err)
	require.NotContains(t, string(raw), "PRIVATE KEY")

	_, err = loadKey(true, nil)
	require.ErrorContains(t, err, "passphrase required")
	_, err = loadKey(true, []byte("wrong"))
	require.Error(t, err)
	got, err = loadKey(true, []byte("pass"))
	require.NoError(t, err)
	gotPub, err = clientcrypto.PublicKeyDER(got)
	require.NoError(t, err)
	require.Equal(t, pub, gotPub)
}

func Test_printJSON_WritesPretty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printJSON(&buf, map[string]any{"a": 1})

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	require.Equal(t, float64(1), m["a"])
	require.Contains(t, buf.String(), "\n  ")
}

func Test_readLine(t *testing.T) {
	t.Parallel()

	got, err := readLine(strings.NewReader("pw\r\nrest"))
	require.NoError(t, err)
	require.Equal(t, "pw", got)
}

func Test_loadTLS_Variants(t *testing.T) {
	t.Parallel()

	cfg, err := loadTLS("", true)
	require.NoError(t, err)
	require.True(t, cfg.InsecureSkipVerify)

	cfg, err = loadTLS("", false)
	require.NoError(t, err)
	require.Nil(t, cfg.RootCAs)

	tmp := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(tmp, []byte("not pem"), 0o600))
	cfg, err = loadTLS(tmp, false)
	require.Error(t, err)
	require.Nil(t, cfg)
}

func Test_run_UsageAndVersion(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	require.Equal(t, 2, run(nil, nil, &out, &errOut))
	require.Contains(t, errOut.String(), "Commands:")

	errOut.Reset()
	require.Equal(t, 2, run([]string{"bogus"}, nil, &out, &errOut))

	require.Equal(t, 0, run([]string{"version"}, nil, &out, &errOut))
	require.Contains(t, out.String(), "trailence dev")
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := zaptest.NewLogger(t)
	jwt := token.NewJWT([]byte("secret"), "test", 15*time.Minute, time.Hour)
	svc := service.NewAuthService(service.AuthDeps{
		Users:   memory.NewUserRepo(),
		Keys:    memory.NewDeviceKeyRepo(),
		Prefs:   memory.NewPreferencesRepo(),
		Hasher:  crypto.NewArgon2Hasher(nil),
		Tokens:  jwt,
		Limiter: limiter.NewMemory(limiter.DefaultConfig),
		Log:     log,
	})
	require.NoError(t, svc.Register(context.Background(), "alice@example.com", "correct"))
	srv := httptest.NewServer(httpserver.New(svc, jwt, nil, log).Router())
	t.Cleanup(srv.Close)
	return srv
}

func Test_run_LoginRenewKeysRevoke(t *testing.T) {
	_ = withTmpConfig(t)
	t.Setenv("TEST_DEVICE_PASSPHRASE", "s3cret")
	srv := newTestServer(t)

	exec := func(stdin string, args ...string) (int, string, string) {
		var out, errOut bytes.Buffer
		code := run(append([]string{"--addr", srv.URL}, args...), strings.NewReader(stdin), &out, &errOut)
		return code, out.String(), errOut.String()
	}

	code, _, errOut := exec("", "login", "--email", "alice@example.com", "--password", "wrong", "--alg", "ed25519")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "bad credentials")

	code, out, errOut := exec("correct\n", "login", "--email", "Alice@example.com", "--password-stdin",
		"--alg", "ecdsa", "--passphrase-env", "TEST_DEVICE_PASSPHRASE", "--device-info", `{"host":"ci"}`)
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "logged in as alice@example.com")

	dev, err := loadDevice()
	require.NoError(t, err)
	require.True(t, dev.Sealed)
	require.Equal(t, "alice@example.com", dev.Email)

	code, _, errOut = exec("", "renew")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "passphrase")

	code, out, errOut = exec("", "renew", "--passphrase-env", "TEST_DEVICE_PASSPHRASE")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "session renewed")

	code, out, errOut = exec("", "keys")
	require.Equal(t, 0, code, errOut)
	var keys []api.KeyInfo
	require.NoError(t, json.Unmarshal([]byte(out), &keys))
	require.Len(t, keys, 1)
	require.Equal(t, dev.KeyID, keys[0].ID)
	require.JSONEq(t, `{"host":"ci"}`, string(keys[0].DeviceInfo))

	code, _, _ = exec("", "revoke")
	require.Equal(t, 1, code)

	code, out, errOut = exec("", "revoke", "--id", dev.KeyID)
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "revoked")

	code, _, errOut = exec("", "renew", "--passphrase-env", "TEST_DEVICE_PASSPHRASE")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "login again")
}
