package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/trailence/trailence-back-sub001/internal/token"
)

type ctxKey string

const (
	subjectKey   ctxKey = "trailence.subject"
	requestIDKey ctxKey = "trailence.reqid"
)

// WithSubject stores the authenticated email in context.
func WithSubject(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, subjectKey, email)
}

// SubjectFromCtx fetches the authenticated email from context.
func SubjectFromCtx(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectKey).(string)
	return v, ok && v != ""
}

// RequestIDFromCtx returns the id assigned by RequestID.
func RequestIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// bearerToken extracts "Authorization: Bearer <JWT>".
func bearerToken(r *http.Request) (string, error) {
	for _, v := range r.Header.Values("Authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			if t := strings.TrimSpace(v[7:]); t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}

// BearerAuth rejects requests without a valid access token and stores its subject in context.
func BearerAuth(v token.Verifier, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := bearerToken(r)
			if err == nil {
				var sub string
				if sub, err = v.Verify(tok); err == nil {
					next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), sub)))
					return
				}
			}
			log.Info("bearer rejected", zap.String("reqid", RequestIDFromCtx(r.Context())), zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="trailence"`)
			writeProblem(w, r, http.StatusUnauthorized, "Unauthorized", "")
		})
	}
}
