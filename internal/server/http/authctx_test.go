package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/trailence/trailence-back-sub001/internal/token"
)

func TestWithSubject_And_SubjectFromCtx(t *testing.T) {
	t.Parallel()

	_, ok := SubjectFromCtx(context.Background())
	require.False(t, ok)

	got, ok := SubjectFromCtx(WithSubject(context.Background(), "a@x.io"))
	require.True(t, ok)
	require.Equal(t, "a@x.io", got)

	_, ok = SubjectFromCtx(WithSubject(context.Background(), ""))
	require.False(t, ok)

	bad := context.WithValue(context.Background(), subjectKey, 42)
	_, ok = SubjectFromCtx(bad)
	require.False(t, ok)
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   abc  ", "abc", true},
		{"BEARER abc", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		got, err := bearerToken(r)
		if tc.ok {
			require.NoError(t, err, tc.header)
			require.Equal(t, tc.want, got)
		} else {
			require.Error(t, err, tc.header)
		}
	}
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()

	jwt := token.NewJWT([]byte("k"), "test", time.Minute, time.Minute)
	var seen string
	h := BearerAuth(jwt, zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SubjectFromCtx(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/keys", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	require.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/keys", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, _, err := jwt.Generate("a@x.io", 0)
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/keys", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, "a@x.io", seen)
}
