// Package fakeapi is an in-process stand-in for the calmie REST API. It backs
// the client tests with real HTTP, real bearer tokens and the same error
// bodies the production backend sends.
package fakeapi

import (
	"crypto/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type account struct {
	ID               int64
	Email            string
	PasswordHash     string
	Username         string
	UserIcon         string
	IntroductionText string
	CreatedAt        time.Time
	tokenVersion     int
}

type Server struct {
	engine *gin.Engine
	log    zerolog.Logger
	secret []byte

	mu       sync.RWMutex
	users    map[int64]*account
	byEmail  map[string]int64
	idTokens map[string]string
	nextID   int64
	calls    map[string]int

	articles      map[int64]*article
	nextArticleID int64
}

func New(log zerolog.Logger) *Server {
	gin.SetMode(gin.TestMode)

	secret := make([]byte, 32)
	_, _ = rand.Read(secret)

	s := &Server{
		log:      log,
		secret:   secret,
		users:    make(map[int64]*account),
		byEmail:  make(map[string]int64),
		idTokens: make(map[string]string),
		calls:    make(map[string]int),
		articles: make(map[int64]*article),
	}

	engine := gin.New()
	engine.Use(
		requestID(),
		requestLogger(log),
		recovery(log),
		s.countCalls(),
	)
	s.register(engine)
	s.registerArticles(engine)
	s.engine = engine
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// AddUser creates an account directly, bypassing /register.
func (s *Server) AddUser(email, password, username string) (int64, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(strings.ToLower(email), hash, username), nil
}

// TrustIDToken makes /oauth-login accept idToken for the given email. The
// account is created on first use.
func (s *Server) TrustIDToken(idToken, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idTokens[idToken] = strings.ToLower(email)
}

// RevokeTokens invalidates every token issued to the user so far.
func (s *Server) RevokeTokens(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.tokenVersion++
	}
}

// SetProfile changes a user's profile as if edited from another device.
func (s *Server) SetProfile(userID int64, username, intro, icon string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.Username = username
		u.IntroductionText = intro
		u.UserIcon = icon
	}
}

// AddArticle publishes an article directly, bypassing /post-article.
func (s *Server) AddArticle(authorID int64, title, content string, categories ...string) int64 {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextArticleID++
	id := s.nextArticleID
	s.articles[id] = &article{
		ID:         id,
		AuthorID:   authorID,
		Title:      title,
		Content:    content,
		Categories: categories,
		Public:     true,
		PublicAt:   now,
		UpdatedAt:  now,
	}
	return id
}

// Calls reports how many requests reached "METHOD /path" (route pattern).
func (s *Server) Calls(route string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[route]
}

func (s *Server) countCalls() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		s.calls[c.Request.Method+" "+c.FullPath()]++
		s.mu.Unlock()
		c.Next()
	}
}

func (s *Server) createLocked(email, passwordHash, username string) int64 {
	s.nextID++
	id := s.nextID
	s.users[id] = &account{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		Username:     username,
		CreatedAt:    time.Now().UTC(),
	}
	s.byEmail[email] = id
	return id
}
