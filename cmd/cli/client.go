package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/trailence/trailence-back-sub001/internal/api"
)

// problemError is a non-2xx answer carrying an RFC 7807 body.
type problemError struct {
	Status int
	Title  string
	Detail string
}

func (e *problemError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Title)
}

// isForbidden reports whether the server refused authentication.
func isForbidden(err error) bool {
	var pe *problemError
	return errors.As(err, &pe) && pe.Status == http.StatusForbidden
}

type client struct {
	base   string
	http   *http.Client
	bearer string
}

func loadTLS(caPath string, insecure bool) (*tls.Config, error) {
	if insecure {
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // explicit dev flag
	}
	if caPath == "" {
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func newClient(base, caPath string, insecure bool) (*client, error) {
	tlsCfg, err := loadTLS(caPath, insecure)
	if err != nil {
		return nil, err
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tlsCfg
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Transport: tr, Timeout: 30 * time.Second},
	}, nil
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		pe := &problemError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
		var p struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&p) == nil {
			if p.Title != "" {
				pe.Title = p.Title
			}
			pe.Detail = p.Detail
		}
		return pe
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) login(ctx context.Context, req api.LoginRequest) (*api.SessionResponse, error) {
	var out api.SessionResponse
	if err := c.do(ctx, http.MethodPost, api.PathLogin, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) initRenew(ctx context.Context, email, keyID string) (string, error) {
	var out api.InitRenewResponse
	err := c.do(ctx, http.MethodPost, api.PathInitRenew, api.InitRenewRequest{Email: email, KeyID: keyID}, &out)
	return out.Challenge, err
}

func (c *client) renew(ctx context.Context, req api.RenewRequest) (*api.SessionResponse, error) {
	var out api.SessionResponse
	if err := c.do(ctx, http.MethodPost, api.PathRenew, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) keys(ctx context.Context) ([]api.KeyInfo, error) {
	var out []api.KeyInfo
	err := c.do(ctx, http.MethodGet, api.PathKeys, nil, &out)
	return out, err
}

func (c *client) revoke(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, api.PathKeys+"/"+id, nil, nil)
}
