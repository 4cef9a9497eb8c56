package api

// User is the profile shape returned by the calmie API.
type User struct {
	ID               int64  `json:"id"`
	Username         string `json:"username"`
	UserIcon         string `json:"user_icon"`
	IntroductionText string `json:"introduction_text"`
	DisplayName      string `json:"display_name,omitempty"`
	Email            string `json:"email,omitempty"`
}

// AuthResponse is what every credential exchange endpoint returns.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type Article struct {
	ID           int64    `json:"id"`
	Title        string   `json:"title"`
	ThumbnailURL string   `json:"thumbnail_url,omitempty"`
	LikeCount    int      `json:"like_count"`
	CommentCount int      `json:"comment_count"`
	AccessCount  int      `json:"access_count"`
	PublicAt     string   `json:"public_at"`
	Category     []string `json:"category,omitempty"`
}

type Stats struct {
	TotalArticles int    `json:"total_articles"`
	TotalLikes    int    `json:"total_likes"`
	TotalAccess   int    `json:"total_access"`
	TotalComments int    `json:"total_comments"`
	MemberSince   string `json:"member_since"`
}

type MyPage struct {
	User     User      `json:"user"`
	Articles []Article `json:"articles"`
	Stats    Stats     `json:"stats"`
}

// Upload is a file attached to a multipart request.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

type ProfileUpdate struct {
	Username         string `validate:"required"`
	IntroductionText string
	Icon             *Upload
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Username string `json:"username" validate:"required"`
}

type oauthLoginRequest struct {
	IDToken string `json:"id_token" validate:"required"`
}

type Comment struct {
	Username     string `json:"username"`
	UserID       int64  `json:"user_id"`
	Comment      string `json:"comment"`
	CommentLikes int    `json:"comment_likes"`
}

// ArticleDetail is an article page: the summary fields plus its body,
// comments and author.
type ArticleDetail struct {
	Article
	Content      string    `json:"content"`
	PublicStatus string    `json:"public_status,omitempty"`
	Comments     []Comment `json:"comments"`
	User         User      `json:"user"`
}

// ArticleDraft is the form sent by PostArticle and EditArticle.
type ArticleDraft struct {
	Title      string   `validate:"required,max=200"`
	Content    string   `validate:"required"`
	Categories []string `validate:"min=1,dive,required"`
	Private    bool
	Thumbnail  *Upload
	Files      []Upload
}

// ArticleRef is the reply to a create or edit.
type ArticleRef struct {
	ID      int64  `json:"id"`
	Message string `json:"message"`
}

type commentRequest struct {
	UserID  int64  `json:"user_id" validate:"gt=0"`
	Comment string `json:"comment" validate:"required"`
}

type likeResponse struct {
	LikeCount int `json:"like_count"`
}
