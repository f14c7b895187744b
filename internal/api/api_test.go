package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/trailence/trailence-back-sub001/internal/model"
)

func TestNewSessionResponse_UsesEpochMillis(t *testing.T) {
	t.Parallel()
	exp := time.Date(2024, 5, 1, 12, 0, 0, 123_000_000, time.UTC)
	id := uuid.Must(uuid.NewV4())

	resp := NewSessionResponse(&model.Session{AccessToken: "t", ExpiresAt: exp, Email: "a@x.io", KeyID: id})
	require.Equal(t, exp.UnixMilli(), resp.Expires)
	require.Equal(t, id.String(), resp.KeyID)
	require.True(t, resp.ExpiresAt().Equal(exp))

	b, err := json.Marshal(resp)
	require.NoError(t, err)
	require.JSONEq(t, `{"accessToken":"t","expires":1714564800123,"email":"a@x.io","keyId":"`+id.String()+`","preferences":{}}`, string(b))
}

func TestLoginRequest_PublicKeyIsStdBase64(t *testing.T) {
	t.Parallel()
	var req LoginRequest
	require.NoError(t, json.Unmarshal([]byte(`{"email":"a@x.io","password":"p","publicKey":"AQID+/8="}`), &req))
	require.Equal(t, []byte{1, 2, 3, 0xfb, 0xff}, req.PublicKey)
}

func TestNewKeyInfo_HidesKeyMaterial(t *testing.T) {
	t.Parallel()
	ch := "secret-challenge"
	k := model.DeviceKey{ID: uuid.Must(uuid.NewV4()), PublicKey: []byte{1}, Challenge: &ch, Fingerprint: "SHA256:abc"}
	b, err := json.Marshal(NewKeyInfo(k))
	require.NoError(t, err)
	require.NotContains(t, string(b), ch)
	require.Contains(t, string(b), "SHA256:abc")
}
