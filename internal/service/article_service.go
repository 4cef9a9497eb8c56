package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"calmie/internal/api"
	"calmie/internal/media"
	"calmie/internal/session"
)

// ArticleService runs the article actions. Reads are public; every write is
// gated on a resolved, signed-in session.
type ArticleService struct {
	api     *api.Client
	session *session.Store
	log     zerolog.Logger
}

func NewArticleService(client *api.Client, store *session.Store, log zerolog.Logger) *ArticleService {
	return &ArticleService{
		api:     client,
		session: store,
		log:     log.With().Str("component", "article").Logger(),
	}
}

// Attachment is a local file named by the user.
type Attachment struct {
	Filename string
	Data     []byte
}

type ArticleInput struct {
	Title      string
	Content    string
	Categories []string
	Private    bool
	Thumbnail  *Attachment
	Files      []Attachment
}

func (s *ArticleService) List(ctx context.Context) ([]api.Article, error) {
	return s.api.ListArticles(ctx)
}

func (s *ArticleService) Show(ctx context.Context, articleID int64) (api.ArticleDetail, error) {
	return s.api.GetArticle(ctx, articleID)
}

func (s *ArticleService) Post(ctx context.Context, input ArticleInput) (api.ArticleRef, error) {
	snap, err := s.session.Require()
	if err != nil {
		return api.ArticleRef{}, err
	}
	draft, err := buildDraft(input)
	if err != nil {
		return api.ArticleRef{}, err
	}

	ref, err := s.api.PostArticle(ctx, snap.User.ID, draft)
	if err != nil {
		return api.ArticleRef{}, s.checkExpired(ctx, err)
	}
	s.log.Info().Int64("article_id", ref.ID).Int64("user_id", snap.User.ID).Msg("article posted")
	return ref, nil
}

func (s *ArticleService) Edit(ctx context.Context, articleID int64, input ArticleInput) (api.ArticleRef, error) {
	snap, err := s.session.Require()
	if err != nil {
		return api.ArticleRef{}, err
	}
	draft, err := buildDraft(input)
	if err != nil {
		return api.ArticleRef{}, err
	}

	ref, err := s.api.EditArticle(ctx, articleID, snap.User.ID, draft)
	if err != nil {
		return api.ArticleRef{}, s.checkExpired(ctx, err)
	}
	s.log.Info().Int64("article_id", articleID).Msg("article edited")
	return ref, nil
}

func (s *ArticleService) Comment(ctx context.Context, articleID int64, text string) (api.Comment, error) {
	snap, err := s.session.Require()
	if err != nil {
		return api.Comment{}, err
	}

	cm, err := s.api.PostComment(ctx, articleID, snap.User.ID, text)
	if err != nil {
		return api.Comment{}, s.checkExpired(ctx, err)
	}
	return cm, nil
}

// Like returns the article's like count after the like.
func (s *ArticleService) Like(ctx context.Context, articleID int64) (int, error) {
	if _, err := s.session.Require(); err != nil {
		return 0, err
	}

	n, err := s.api.Like(ctx, articleID)
	if err != nil {
		return 0, s.checkExpired(ctx, err)
	}
	return n, nil
}

func (s *ArticleService) checkExpired(ctx context.Context, err error) error {
	if errors.Is(err, api.ErrUnauthorized) {
		s.log.Warn().Err(err).Msg("token rejected, signing out")
		s.session.Logout(ctx)
		return ErrSessionExpired
	}
	return err
}

func buildDraft(input ArticleInput) (api.ArticleDraft, error) {
	draft := api.ArticleDraft{
		Title:      input.Title,
		Content:    input.Content,
		Categories: input.Categories,
		Private:    input.Private,
	}
	if input.Thumbnail != nil {
		img, err := media.PrepareImage(input.Thumbnail.Filename, input.Thumbnail.Data)
		if err != nil {
			return api.ArticleDraft{}, err
		}
		draft.Thumbnail = toUpload(img)
	}
	for _, f := range input.Files {
		img, err := media.PrepareImage(f.Filename, f.Data)
		if err != nil {
			return api.ArticleDraft{}, err
		}
		draft.Files = append(draft.Files, *toUpload(img))
	}
	return draft, nil
}

func toUpload(f media.File) *api.Upload {
	return &api.Upload{
		Filename:    f.Filename,
		ContentType: f.ContentType,
		Data:        f.Data,
	}
}
