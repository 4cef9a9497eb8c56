package fakeapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

const tokenTTL = time.Hour

type userResponse struct {
	ID               int64  `json:"id"`
	Username         string `json:"username"`
	UserIcon         string `json:"user_icon"`
	IntroductionText string `json:"introduction_text"`
	Email            string `json:"email,omitempty"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Username string `json:"username" binding:"required"`
}

type oauthLoginRequest struct {
	IDToken string `json:"id_token" binding:"required"`
}

func (s *Server) register(engine *gin.Engine) {
	engine.GET("/healthz", s.health)
	engine.POST("/login", s.login)
	engine.POST("/register", s.registerUser)
	engine.POST("/oauth-login", s.oauthLogin)

	mypage := engine.Group("/mypage")
	mypage.Use(s.auth())
	mypage.GET("/:id", s.myPage)
	mypage.POST("/:id", s.updateProfile)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(req.Email)]
	var u account
	if ok {
		u = *s.users[id]
	}
	s.mu.RUnlock()

	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid email or password"})
		return
	}
	match, err := verifyPassword(req.Password, u.PasswordHash)
	if err != nil || !match {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid email or password"})
		return
	}

	s.sendAuthResponse(c, u)
}

func (s *Server) registerUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	email := strings.ToLower(req.Email)
	s.mu.Lock()
	if _, exists := s.byEmail[email]; exists {
		s.mu.Unlock()
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Email already registered"})
		return
	}
	id := s.createLocked(email, hash, req.Username)
	u := *s.users[id]
	s.mu.Unlock()

	s.sendAuthResponse(c, u)
}

func (s *Server) oauthLogin(c *gin.Context) {
	var req oauthLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	s.mu.Lock()
	email, trusted := s.idTokens[req.IDToken]
	if !trusted {
		s.mu.Unlock()
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid ID token"})
		return
	}
	id, exists := s.byEmail[email]
	if !exists {
		id = s.createLocked(email, "", strings.SplitN(email, "@", 2)[0])
	}
	u := *s.users[id]
	s.mu.Unlock()

	s.sendAuthResponse(c, u)
}

func (s *Server) sendAuthResponse(c *gin.Context, u account) {
	token, err := generateAccessToken(s.secret, u.ID, u.tokenVersion, tokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, authResponse{Token: token, User: toUserResponse(u)})
}

func (s *Server) myPage(c *gin.Context) {
	u, ok := s.pathUser(c)
	if !ok {
		return
	}

	s.mu.RLock()
	articles := s.articlesByLocked(u.ID)
	s.mu.RUnlock()

	stats := gin.H{
		"total_articles": len(articles),
		"member_since":   u.CreatedAt.Format(time.RFC3339),
	}
	var likes, access, comments int
	for _, a := range articles {
		likes += a.LikeCount
		access += a.AccessCount
		comments += a.CommentCount
	}
	stats["total_likes"] = likes
	stats["total_access"] = access
	stats["total_comments"] = comments

	c.JSON(http.StatusOK, gin.H{
		"user":     toUserResponse(u),
		"articles": articles,
		"stats":    stats,
	})
}

func (s *Server) updateProfile(c *gin.Context) {
	u, ok := s.pathUser(c)
	if !ok {
		return
	}

	current, _ := c.Get("current_user")
	if current.(account).ID != u.ID {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Cannot edit another user's profile"})
		return
	}

	username := c.PostForm("username")
	if username == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"msg": "username is required"}}})
		return
	}
	intro := c.PostForm("introduction_text")

	icon := u.UserIcon
	if fh, err := c.FormFile("user_icon"); err == nil {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "unreadable icon"})
			return
		}
		_, _ = io.Copy(io.Discard, f)
		f.Close()
		icon = fmt.Sprintf("/static/icons/%d-%s", u.ID, fh.Filename)
	} else if !errors.Is(err, http.ErrMissingFile) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	s.SetProfile(u.ID, username, intro, icon)
	c.JSON(http.StatusOK, gin.H{"message": "Profile updated"})
}

func (s *Server) pathUser(c *gin.Context) (account, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"msg": "id must be an integer"}}})
		return account{}, false
	}

	s.mu.RLock()
	u, ok := s.users[id]
	var snapshot account
	if ok {
		snapshot = *u
	}
	s.mu.RUnlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "User not found"})
		return account{}, false
	}
	return snapshot, true
}

func toUserResponse(u account) userResponse {
	return userResponse{
		ID:               u.ID,
		Username:         u.Username,
		UserIcon:         u.UserIcon,
		IntroductionText: u.IntroductionText,
		Email:            u.Email,
	}
}

// validationError answers like FastAPI does: a 422 with a list of messages.
func validationError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]gin.H, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, gin.H{
				"loc": []string{"body", strings.ToLower(fe.Field())},
				"msg": fmt.Sprintf("%s failed on %s", strings.ToLower(fe.Field()), fe.Tag()),
			})
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": details})
		return
	}
	c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"msg": err.Error()}}})
}
