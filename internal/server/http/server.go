// Package httpserver exposes the authentication service over JSON REST.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/trailence/trailence-back-sub001/internal/api"
	"github.com/trailence/trailence-back-sub001/internal/errs"
	"github.com/trailence/trailence-back-sub001/internal/service"
	"github.com/trailence/trailence-back-sub001/internal/token"
)

const maxBodyBytes = 64 << 10

// maxExpiresIn is the largest expiresIn, in seconds, that fits a time.Duration.
const maxExpiresIn = math.MaxInt64 / int64(time.Second)

// Pinger reports store readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the auth service into HTTP handlers.
type Server struct {
	auth   service.AuthService
	tokens token.Verifier
	store  Pinger
	log    *zap.Logger
}

// New constructs a Server. store may be nil when there is nothing to ping.
func New(auth service.AuthService, tokens token.Verifier, store Pinger, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{auth: auth, tokens: tokens, store: store, log: log}
}

// Router returns the complete handler with middleware applied.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestID, Recover(s.log), Logging(s.log))
	r.NotFoundHandler = RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, "Not Found", "")
	}))
	r.MethodNotAllowedHandler = RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	}))

	r.HandleFunc("/healthz", s.liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readiness).Methods(http.MethodGet)

	r.HandleFunc(api.PathLogin, s.login).Methods(http.MethodPost)
	r.HandleFunc(api.PathInitRenew, s.initRenew).Methods(http.MethodPost)
	r.HandleFunc(api.PathRenew, s.renew).Methods(http.MethodPost)

	keys := r.PathPrefix(api.PathKeys).Subrouter()
	keys.Use(BearerAuth(s.tokens, s.log))
	keys.HandleFunc("", s.listKeys).Methods(http.MethodGet)
	keys.HandleFunc("/{id}", s.deleteKey).Methods(http.MethodDelete)
	return r
}

func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.log.Warn("store unreachable", zap.Error(err))
			writeProblem(w, r, http.StatusServiceUnavailable, "Service Unavailable", "store unreachable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ExpiresIn < 0 || req.ExpiresIn > maxExpiresIn {
		writeProblem(w, r, http.StatusBadRequest, "Bad Request", "expiresIn out of range")
		return
	}
	sess, err := s.auth.Login(r.Context(), service.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		PublicKey:  req.PublicKey,
		DeviceInfo: req.DeviceInfo,
		ExpiresIn:  time.Duration(req.ExpiresIn) * time.Second,
		ClientIP:   clientIP(r),
	})
	if err != nil {
		s.fail(w, r, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewSessionResponse(sess))
}

func (s *Server) initRenew(w http.ResponseWriter, r *http.Request) {
	var req api.InitRenewRequest
	if !s.decode(w, r, &req) {
		return
	}
	keyID, err := uuid.FromString(req.KeyID)
	if err != nil {
		// an unparseable id is just an unknown one
		s.fail(w, r, "init_renew", errs.ErrForbidden)
		return
	}
	challenge, err := s.auth.InitRenew(r.Context(), req.Email, keyID)
	if err != nil {
		s.fail(w, r, "init_renew", err)
		return
	}
	writeJSON(w, http.StatusOK, api.InitRenewResponse{Challenge: challenge})
}

func (s *Server) renew(w http.ResponseWriter, r *http.Request) {
	var req api.RenewRequest
	if !s.decode(w, r, &req) {
		return
	}
	keyID, err := uuid.FromString(req.KeyID)
	if err != nil {
		s.fail(w, r, "renew", errs.ErrForbidden)
		return
	}
	sess, err := s.auth.Renew(r.Context(), service.RenewInput{
		Email:      req.Email,
		KeyID:      keyID,
		Challenge:  req.Random,
		Signature:  req.Signature,
		DeviceInfo: req.DeviceInfo,
	})
	if err != nil {
		s.fail(w, r, "renew", err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewSessionResponse(sess))
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	email, _ := SubjectFromCtx(r.Context())
	keys, err := s.auth.ListKeys(r.Context(), email)
	if err != nil {
		s.fail(w, r, "list_keys", err)
		return
	}
	out := make([]api.KeyInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, api.NewKeyInfo(k))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteKey(w http.ResponseWriter, r *http.Request) {
	email, _ := SubjectFromCtx(r.Context())
	id, err := uuid.FromString(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, "delete_key", errs.ErrNotFound)
		return
	}
	if err := s.auth.DeleteKey(r.Context(), email, id); err != nil {
		s.fail(w, r, "delete_key", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, r, http.StatusRequestEntityTooLarge, "Request Entity Too Large", "")
			return false
		}
		writeProblem(w, r, http.StatusBadRequest, "Bad Request", fmt.Sprintf("malformed JSON body: %v", err))
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !errors.Is(err, errs.ErrForbidden) && !errors.Is(err, errs.ErrInvalidArgument) && !errors.Is(err, errs.ErrNotFound) {
		s.log.Error("request failed",
			zap.String("op", op),
			zap.String("reqid", RequestIDFromCtx(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, r, err)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
