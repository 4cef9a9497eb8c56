package api

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"calmie/internal/config"
	"calmie/internal/fakeapi"
)

type staticBearer struct {
	token string
}

func (b *staticBearer) BearerToken() (string, bool) {
	return b.token, b.token != ""
}

func newClientTest(t *testing.T) (*Client, *fakeapi.Server, *staticBearer, func()) {
	t.Helper()

	backend := fakeapi.New(zerolog.Nop())
	srv := httptest.NewServer(backend.Handler())

	bearer := &staticBearer{}
	c, err := New(config.APIConfig{BaseURL: srv.URL + "/", Timeout: 5 * time.Second}, bearer)
	if err != nil {
		srv.Close()
		t.Fatalf("new client: %v", err)
	}
	return c, backend, bearer, srv.Close
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	if _, err := New(config.APIConfig{BaseURL: "ftp://example.com"}, nil); err == nil {
		t.Fatalf("expected error for non-http base url")
	}
}

func TestRegisterAndLogin(t *testing.T) {
	c, _, _, done := newClientTest(t)
	defer done()
	ctx := context.Background()

	reg, err := c.Register(ctx, "ana@example.com", "correct horse", "ana")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.Token == "" || reg.User.ID <= 0 || reg.User.Username != "ana" {
		t.Fatalf("unexpected register response: %+v", reg)
	}

	got, err := c.Login(ctx, "ANA@example.com", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.User.ID != reg.User.ID {
		t.Fatalf("login user id = %d, want %d", got.User.ID, reg.User.ID)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	c, backend, _, done := newClientTest(t)
	defer done()

	if _, err := backend.AddUser("ana@example.com", "correct horse", "ana"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := c.Register(context.Background(), "ana@example.com", "another pass", "ana2")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != 400 || apiErr.Detail != "Email already registered" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestRegisterPasswordLength(t *testing.T) {
	c, backend, _, done := newClientTest(t)
	defer done()
	ctx := context.Background()

	if _, err := c.Register(ctx, "ana@example.com", "12345", "ana"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for a five character password, got %v", err)
	}
	if n := backend.Calls("POST /register"); n != 0 {
		t.Fatalf("request should not reach the server, got %d calls", n)
	}

	reg, err := c.Register(ctx, "ana@example.com", "123456", "ana")
	if err != nil {
		t.Fatalf("six character password must be accepted: %v", err)
	}
	if _, err := c.Login(ctx, "ana@example.com", "123456"); err != nil {
		t.Fatalf("login with six character password: %v", err)
	}
	if reg.User.Username != "ana" {
		t.Fatalf("unexpected register response: %+v", reg)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	c, backend, _, done := newClientTest(t)
	defer done()

	if _, err := backend.AddUser("ana@example.com", "correct horse", "ana"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := c.Login(context.Background(), "ana@example.com", "wrong password")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid email or password") {
		t.Fatalf("detail missing from error: %v", err)
	}
}

func TestLoginValidatesLocally(t *testing.T) {
	c, backend, _, done := newClientTest(t)
	defer done()

	_, err := c.Login(context.Background(), "not-an-email", "pw")
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if n := backend.Calls("POST /login"); n != 0 {
		t.Fatalf("request should not reach the server, got %d calls", n)
	}
}

func TestOAuthLogin(t *testing.T) {
	c, backend, _, done := newClientTest(t)
	defer done()
	ctx := context.Background()

	if _, err := c.OAuthLogin(ctx, "unknown-token"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for untrusted token, got %v", err)
	}

	backend.TrustIDToken("google-id-token", "kai@example.com")
	resp, err := c.OAuthLogin(ctx, "google-id-token")
	if err != nil {
		t.Fatalf("oauth login: %v", err)
	}
	if resp.User.Username != "kai" || resp.Token == "" {
		t.Fatalf("unexpected oauth response: %+v", resp)
	}
}

func TestMyPageRequiresBearer(t *testing.T) {
	c, backend, _, done := newClientTest(t)
	defer done()

	if _, err := c.MyPage(context.Background(), 1); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if n := backend.Calls("GET /mypage/:id"); n != 0 {
		t.Fatalf("request should not reach the server, got %d calls", n)
	}
}

func TestMyPageWithToken(t *testing.T) {
	c, _, bearer, done := newClientTest(t)
	defer done()
	ctx := context.Background()

	reg, err := c.Register(ctx, "ana@example.com", "correct horse", "ana")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	bearer.token = reg.Token

	page, err := c.MyPage(ctx, reg.User.ID)
	if err != nil {
		t.Fatalf("mypage: %v", err)
	}
	if page.User.Username != "ana" {
		t.Fatalf("mypage user = %+v", page.User)
	}
	if page.Stats.TotalArticles != len(page.Articles) {
		t.Fatalf("stats %d articles, got %d", page.Stats.TotalArticles, len(page.Articles))
	}

	if _, err := c.MyPage(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokedTokenIsUnauthorized(t *testing.T) {
	c, backend, bearer, done := newClientTest(t)
	defer done()
	ctx := context.Background()

	reg, err := c.Register(ctx, "ana@example.com", "correct horse", "ana")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	bearer.token = reg.Token
	backend.RevokeTokens(reg.User.ID)

	if _, err := c.MyPage(ctx, reg.User.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestUpdateProfileMultipart(t *testing.T) {
	c, _, bearer, done := newClientTest(t)
	defer done()
	ctx := context.Background()

	reg, err := c.Register(ctx, "ana@example.com", "correct horse", "ana")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	bearer.token = reg.Token

	err = c.UpdateProfile(ctx, reg.User.ID, ProfileUpdate{
		Username:         "ana-renamed",
		IntroductionText: "hello",
		Icon: &Upload{
			Filename:    "me.png",
			ContentType: "image/png",
			Data:        []byte("\x89PNG\r\n\x1a\nrest"),
		},
	})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}

	page, err := c.MyPage(ctx, reg.User.ID)
	if err != nil {
		t.Fatalf("mypage: %v", err)
	}
	if page.User.Username != "ana-renamed" || page.User.IntroductionText != "hello" {
		t.Fatalf("profile not updated: %+v", page.User)
	}
	if !strings.HasSuffix(page.User.UserIcon, "me.png") {
		t.Fatalf("icon url = %q", page.User.UserIcon)
	}
}

func TestUpdateProfileOtherUserForbidden(t *testing.T) {
	c, backend, bearer, done := newClientTest(t)
	defer done()
	ctx := context.Background()

	other, err := backend.AddUser("bo@example.com", "correct horse", "bo")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	reg, err := c.Register(ctx, "ana@example.com", "correct horse", "ana")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	bearer.token = reg.Token

	err = c.UpdateProfile(ctx, other, ProfileUpdate{Username: "hijack"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 403 {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestParseDetail(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"detail":"Invalid email or password"}`, "Invalid email or password"},
		{`{"detail":[{"loc":["body","email"],"msg":"value is not a valid email"}]}`, "value is not a valid email"},
		{`{"error":"boom"}`, "boom"},
		{`gateway timeout`, "gateway timeout"},
	}
	for _, tc := range cases {
		if got := parseDetail([]byte(tc.body)); got != tc.want {
			t.Fatalf("parseDetail(%s) = %q, want %q", tc.body, got, tc.want)
		}
	}
}
