package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"calmie/internal/config"
)

const requestIDHeader = "X-Request-Id"

// BearerSource supplies the token attached to authenticated calls.
type BearerSource interface {
	BearerToken() (string, bool)
}

type Client struct {
	baseURL  *url.URL
	http     *http.Client
	bearer   BearerSource
	log      zerolog.Logger
	validate *validator.Validate
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(cl *Client) {
		cl.log = log
	}
}

func New(cfg config.APIConfig, bearer BearerSource, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api base url %q must be http or https", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		baseURL:  base,
		http:     &http.Client{Timeout: timeout},
		bearer:   bearer,
		log:      zerolog.Nop(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "api").Logger()
	return c, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	req := loginRequest{Email: strings.TrimSpace(email), Password: password}
	if err := c.validate.Struct(req); err != nil {
		return AuthResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/login", req, false, &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

func (c *Client) Register(ctx context.Context, email, password, username string) (AuthResponse, error) {
	req := registerRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
		Username: strings.TrimSpace(username),
	}
	if err := c.validate.Struct(req); err != nil {
		return AuthResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/register", req, false, &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

// OAuthLogin exchanges an identity provider ID token for a calmie session.
func (c *Client) OAuthLogin(ctx context.Context, idToken string) (AuthResponse, error) {
	req := oauthLoginRequest{IDToken: idToken}
	if err := c.validate.Struct(req); err != nil {
		return AuthResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/oauth-login", req, false, &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

func (c *Client) MyPage(ctx context.Context, userID int64) (MyPage, error) {
	var page MyPage
	path := "/mypage/" + strconv.FormatInt(userID, 10)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &page); err != nil {
		return MyPage{}, err
	}
	return page, nil
}

// UpdateProfile posts the profile form, including the icon when present.
func (c *Client) UpdateProfile(ctx context.Context, userID int64, update ProfileUpdate) error {
	if err := c.validate.Struct(update); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	fields := []formField{
		{name: "username", value: update.Username},
		{name: "introduction_text", value: update.IntroductionText},
	}
	var files []formFile
	if update.Icon != nil {
		files = append(files, formFile{name: "user_icon", upload: *update.Icon})
	}

	path := "/mypage/" + strconv.FormatInt(userID, 10)
	return c.postForm(ctx, path, fields, files, nil)
}

type formField struct {
	name  string
	value string
}

type formFile struct {
	name   string
	upload Upload
}

// postForm sends an authenticated multipart/form-data request.
func (c *Client) postForm(ctx context.Context, path string, fields []formField, files []formFile, out any) error {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	for _, f := range fields {
		if err := form.WriteField(f.name, f.value); err != nil {
			return fmt.Errorf("encode form: %w", err)
		}
	}
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name=%q; filename=%q`, f.name, f.upload.Filename))
		contentType := f.upload.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)

		part, err := form.CreatePart(header)
		if err != nil {
			return fmt.Errorf("encode form: %w", err)
		}
		if _, err := part.Write(f.upload.Data); err != nil {
			return fmt.Errorf("encode form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("encode form: %w", err)
	}

	return c.do(ctx, http.MethodPost, path, &body, form.FormDataContentType(), true, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, auth bool, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, auth, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, auth bool, out any) error {
	endpoint := c.baseURL.JoinPath(path)

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)

	if auth {
		token, ok := "", false
		if c.bearer != nil {
			token, ok = c.bearer.BearerToken()
		}
		if !ok {
			return ErrNoSession
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().
			Err(err).
			Str("method", method).
			Str("path", path).
			Str("request_id", requestID).
			Msg("api request failed")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	event := c.log.Debug()
	if resp.StatusCode >= 500 {
		event = c.log.Error()
	} else if resp.StatusCode >= 400 {
		event = c.log.Warn()
	}
	event.
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Str("request_id", requestID).
		Msg("api request")

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Status:    resp.StatusCode,
			Detail:    parseDetail(raw),
			RequestID: requestID,
		}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
