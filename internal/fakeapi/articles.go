package fakeapi

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type comment struct {
	UserID  int64
	Text    string
	Created time.Time
}

type article struct {
	ID           int64
	AuthorID     int64
	Title        string
	Content      string
	Categories   []string
	Public       bool
	ThumbnailURL string
	Files        []string
	Likes        int
	Access       int
	Comments     []comment
	PublicAt     time.Time
	UpdatedAt    time.Time
}

type articleSummary struct {
	ID           int64    `json:"id"`
	Title        string   `json:"title"`
	ThumbnailURL string   `json:"thumbnail_url,omitempty"`
	LikeCount    int      `json:"like_count"`
	CommentCount int      `json:"comment_count"`
	AccessCount  int      `json:"access_count"`
	PublicAt     string   `json:"public_at"`
	Category     []string `json:"category"`
}

type commentResponse struct {
	Username     string `json:"username"`
	UserID       int64  `json:"user_id"`
	Comment      string `json:"comment"`
	CommentLikes int    `json:"comment_likes"`
}

type commentRequest struct {
	UserID  int64  `json:"user_id" binding:"required"`
	Comment string `json:"comment" binding:"required"`
}

func (s *Server) registerArticles(engine *gin.Engine) {
	engine.GET("/", s.root)
	engine.GET("/articles", s.listArticles)
	engine.GET("/articles/:id", s.getArticle)

	authed := engine.Group("")
	authed.Use(s.auth())
	authed.POST("/post-article", s.postArticle)
	authed.GET("/edit-article/:id", s.getArticleForEdit)
	authed.POST("/edit-article/:id", s.editArticle)
	authed.POST("/articles/:id/comments", s.postComment)
	authed.POST("/articles/:id/like", s.likeArticle)
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Welcome to calmie"})
}

func (s *Server) listArticles(c *gin.Context) {
	s.mu.RLock()
	out := make([]articleSummary, 0, len(s.articles))
	for _, a := range s.articles {
		if a.Public {
			out = append(out, toSummary(a))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	c.JSON(http.StatusOK, gin.H{"articles": out})
}

func (s *Server) getArticle(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	s.mu.Lock()
	a, found := s.articles[id]
	if !found || !a.Public {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"detail": "Article not found"})
		return
	}
	a.Access++
	body := s.detailLocked(a)
	s.mu.Unlock()

	c.JSON(http.StatusOK, body)
}

func (s *Server) getArticleForEdit(c *gin.Context) {
	a, ok := s.ownedArticle(c)
	if !ok {
		return
	}

	s.mu.RLock()
	body := s.detailLocked(&a)
	s.mu.RUnlock()
	c.JSON(http.StatusOK, body)
}

func (s *Server) postArticle(c *gin.Context) {
	user := currentUser(c)
	if !formUserMatches(c, "create_user_id", user) {
		return
	}

	a, ok := readArticleForm(c)
	if !ok {
		return
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.nextArticleID++
	a.ID = s.nextArticleID
	a.AuthorID = user.ID
	a.PublicAt = now
	a.UpdatedAt = now
	a.ThumbnailURL = uploadedURL(c, "thumbnail", a.ID, "")
	a.Files = uploadedFiles(c, a.ID)
	s.articles[a.ID] = &a
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"id": a.ID, "message": "Article created"})
}

func (s *Server) editArticle(c *gin.Context) {
	current, ok := s.ownedArticle(c)
	if !ok {
		return
	}
	if !formUserMatches(c, "update_user_id", currentUser(c)) {
		return
	}

	next, ok := readArticleForm(c)
	if !ok {
		return
	}

	s.mu.Lock()
	a, found := s.articles[current.ID]
	if !found {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"detail": "Article not found"})
		return
	}
	a.Title = next.Title
	a.Content = next.Content
	a.Categories = next.Categories
	a.Public = next.Public
	a.ThumbnailURL = uploadedURL(c, "thumbnail", a.ID, a.ThumbnailURL)
	a.Files = append(a.Files, uploadedFiles(c, a.ID)...)
	a.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"id": current.ID, "message": "Article updated"})
}

func (s *Server) postComment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}
	user := currentUser(c)
	if req.UserID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Cannot comment as another user"})
		return
	}

	s.mu.Lock()
	a, found := s.articles[id]
	if !found || !a.Public {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"detail": "Article not found"})
		return
	}
	a.Comments = append(a.Comments, comment{UserID: user.ID, Text: req.Comment, Created: time.Now().UTC()})
	s.mu.Unlock()

	c.JSON(http.StatusOK, commentResponse{Username: user.Username, UserID: user.ID, Comment: req.Comment})
}

func (s *Server) likeArticle(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	s.mu.Lock()
	a, found := s.articles[id]
	if !found || !a.Public {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"detail": "Article not found"})
		return
	}
	a.Likes++
	count := a.Likes
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"like_count": count})
}

// ownedArticle loads the article in the path and answers 403 unless the
// caller wrote it.
func (s *Server) ownedArticle(c *gin.Context) (article, bool) {
	id, ok := pathID(c)
	if !ok {
		return article{}, false
	}

	s.mu.RLock()
	a, found := s.articles[id]
	var snapshot article
	if found {
		snapshot = *a
	}
	s.mu.RUnlock()

	if !found {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Article not found"})
		return article{}, false
	}
	if snapshot.AuthorID != currentUser(c).ID {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Cannot edit another user's article"})
		return article{}, false
	}
	return snapshot, true
}

func (s *Server) detailLocked(a *article) gin.H {
	comments := make([]commentResponse, 0, len(a.Comments))
	for _, cm := range a.Comments {
		name := ""
		if u, ok := s.users[cm.UserID]; ok {
			name = u.Username
		}
		comments = append(comments, commentResponse{Username: name, UserID: cm.UserID, Comment: cm.Text})
	}

	var author userResponse
	if u, ok := s.users[a.AuthorID]; ok {
		author = toUserResponse(*u)
		author.Email = ""
	}

	summary := toSummary(a)
	return gin.H{
		"id":            summary.ID,
		"title":         summary.Title,
		"content":       a.Content,
		"thumbnail_url": summary.ThumbnailURL,
		"like_count":    summary.LikeCount,
		"comment_count": summary.CommentCount,
		"access_count":  summary.AccessCount,
		"public_at":     summary.PublicAt,
		"category":      summary.Category,
		"public_status": publicStatus(a.Public),
		"comments":      comments,
		"user":          author,
	}
}

// articlesByLocked returns the author's articles, newest first.
func (s *Server) articlesByLocked(authorID int64) []articleSummary {
	out := make([]articleSummary, 0)
	for _, a := range s.articles {
		if a.AuthorID == authorID {
			out = append(out, toSummary(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func toSummary(a *article) articleSummary {
	return articleSummary{
		ID:           a.ID,
		Title:        a.Title,
		ThumbnailURL: a.ThumbnailURL,
		LikeCount:    a.Likes,
		CommentCount: len(a.Comments),
		AccessCount:  a.Access,
		PublicAt:     a.PublicAt.Format(time.RFC3339),
		Category:     append([]string(nil), a.Categories...),
	}
}

func readArticleForm(c *gin.Context) (article, bool) {
	title := strings.TrimSpace(c.PostForm("title"))
	content := c.PostForm("content")
	if title == "" || strings.TrimSpace(content) == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"msg": "title and content are required"}}})
		return article{}, false
	}

	var categories []string
	if raw := c.PostForm("categories"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &categories); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"msg": "categories must be a JSON array"}}})
			return article{}, false
		}
	}

	status := c.DefaultPostForm("public_status", "public")
	if status != "public" && status != "private" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"msg": "public_status must be public or private"}}})
		return article{}, false
	}

	return article{
		Title:      title,
		Content:    content,
		Categories: categories,
		Public:     status == "public",
	}, true
}

func formUserMatches(c *gin.Context, field string, user account) bool {
	id, err := strconv.ParseInt(c.PostForm(field), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"msg": field + " must be an integer"}}})
		return false
	}
	if id != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Cannot write as another user"})
		return false
	}
	return true
}

func uploadedURL(c *gin.Context, field string, articleID int64, fallback string) string {
	fh, err := c.FormFile(field)
	if err != nil {
		return fallback
	}
	return fileURL(articleID, fh)
}

func uploadedFiles(c *gin.Context, articleID int64) []string {
	form, err := c.MultipartForm()
	if err != nil {
		return nil
	}
	var urls []string
	for _, fh := range form.File["files"] {
		urls = append(urls, fileURL(articleID, fh))
	}
	return urls
}

func fileURL(articleID int64, fh *multipart.FileHeader) string {
	return fmt.Sprintf("/static/articles/%d/%s", articleID, fh.Filename)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"msg": "id must be an integer"}}})
		return 0, false
	}
	return id, true
}

func currentUser(c *gin.Context) account {
	v, _ := c.Get("current_user")
	u, _ := v.(account)
	return u
}

func publicStatus(public bool) string {
	if public {
		return "public"
	}
	return "private"
}
