// Package oauth obtains an OpenID Connect ID token through the browser using
// the loopback redirect flow for native apps. The token itself is passed on
// to the calmie API unverified; checking it is the server's job.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"calmie/internal/config"
)

const callbackPath = "/callback"

var (
	ErrNoIDToken = errors.New("token response has no id_token")
	ErrDenied    = errors.New("authorization denied")
)

// Opener shows the authorization URL to the user, usually by launching a
// browser.
type Opener func(authURL string) error

type Flow struct {
	cfg      config.OAuthConfig
	endpoint oauth2.Endpoint
	open     Opener
	client   *http.Client
	log      zerolog.Logger
}

type Option func(*Flow)

func WithOpener(open Opener) Option {
	return func(f *Flow) {
		f.open = open
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(f *Flow) {
		f.client = c
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(f *Flow) {
		f.log = log
	}
}

// New discovers the provider's endpoints from its issuer URL.
func New(ctx context.Context, cfg config.OAuthConfig, opts ...Option) (*Flow, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("oauth client id is not configured")
	}

	f := &Flow{
		cfg:    cfg,
		client: http.DefaultClient,
		log:    zerolog.Nop(),
		open: func(string) error {
			return errors.New("no way to open the authorization url")
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.With().Str("component", "oauth").Logger()

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, f.client), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", cfg.Issuer, err)
	}
	f.endpoint = provider.Endpoint()
	return f, nil
}

type callbackResult struct {
	code string
	err  error
}

// IDToken runs one authorization code exchange with PKCE and returns the raw
// id_token from the token response.
func (f *Flow) IDToken(ctx context.Context) (string, error) {
	timeout := f.cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	listener, err := net.Listen("tcp", f.cfg.ListenAddr)
	if err != nil {
		return "", fmt.Errorf("listen for oauth callback: %w", err)
	}

	conf := &oauth2.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		Endpoint:     f.endpoint,
		Scopes:       f.cfg.Scopes,
		RedirectURL:  "http://" + listener.Addr().String() + callbackPath,
	}

	state := oauth2.GenerateVerifier()
	verifier := oauth2.GenerateVerifier()

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		// Requests that do not carry our state are answered and dropped so a
		// stray hit on the loopback port cannot end the flow.
		if r.URL.Query().Get("state") != state {
			f.log.Warn().Str("remote", r.RemoteAddr).Msg("ignoring oauth callback with unknown state")
			http.Error(w, "Unknown sign-in request.", http.StatusBadRequest)
			return
		}
		res := readCallback(r)
		select {
		case results <- res:
		default:
		}
		if res.err != nil {
			http.Error(w, "Sign-in failed. You can close this window.", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("Signed in. You can close this window."))
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.log.Error().Err(err).Msg("callback server stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	f.log.Debug().Str("redirect_url", conf.RedirectURL).Msg("waiting for oauth callback")
	if err := f.open(authURL); err != nil {
		return "", fmt.Errorf("open authorization url: %w", err)
	}

	var res callbackResult
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("wait for oauth callback: %w", ctx.Err())
	case res = <-results:
	}
	if res.err != nil {
		return "", res.err
	}

	tok, err := conf.Exchange(context.WithValue(ctx, oauth2.HTTPClient, f.client), res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return "", fmt.Errorf("exchange authorization code: %w", err)
	}

	idToken, ok := tok.Extra("id_token").(string)
	if !ok || idToken == "" {
		return "", ErrNoIDToken
	}
	return idToken, nil
}

func readCallback(r *http.Request) callbackResult {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		return callbackResult{err: fmt.Errorf("%w: %s %s", ErrDenied, e, q.Get("error_description"))}
	}
	code := q.Get("code")
	if code == "" {
		return callbackResult{err: errors.New("callback has no authorization code")}
	}
	return callbackResult{code: code}
}
