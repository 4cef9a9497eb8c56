package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ListArticles returns the public timeline. The API answers either with a
// bare array or with {"articles": [...]}; both are accepted.
func (c *Client) ListArticles(ctx context.Context) ([]Article, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/articles", nil, false, &raw); err != nil {
		return nil, err
	}
	return decodeArticleList(raw)
}

func (c *Client) GetArticle(ctx context.Context, articleID int64) (ArticleDetail, error) {
	var detail ArticleDetail
	if err := c.doJSON(ctx, http.MethodGet, articlePath(articleID), nil, false, &detail); err != nil {
		return ArticleDetail{}, err
	}
	return detail, nil
}

// PostArticle publishes a new article as userID.
func (c *Client) PostArticle(ctx context.Context, userID int64, draft ArticleDraft) (ArticleRef, error) {
	fields, err := c.draftFields(draft)
	if err != nil {
		return ArticleRef{}, err
	}
	fields = append([]formField{{name: "create_user_id", value: strconv.FormatInt(userID, 10)}}, fields...)

	var ref ArticleRef
	if err := c.postForm(ctx, "/post-article", fields, draftFiles(draft), &ref); err != nil {
		return ArticleRef{}, err
	}
	return ref, nil
}

// EditArticle replaces the title, body, categories and visibility of an
// article the user wrote. A thumbnail replaces the old one; files are added.
func (c *Client) EditArticle(ctx context.Context, articleID, userID int64, draft ArticleDraft) (ArticleRef, error) {
	fields, err := c.draftFields(draft)
	if err != nil {
		return ArticleRef{}, err
	}
	fields = append([]formField{{name: "update_user_id", value: strconv.FormatInt(userID, 10)}}, fields...)

	var ref ArticleRef
	path := "/edit-article/" + strconv.FormatInt(articleID, 10)
	if err := c.postForm(ctx, path, fields, draftFiles(draft), &ref); err != nil {
		return ArticleRef{}, err
	}
	return ref, nil
}

func (c *Client) PostComment(ctx context.Context, articleID, userID int64, text string) (Comment, error) {
	req := commentRequest{UserID: userID, Comment: strings.TrimSpace(text)}
	if err := c.validate.Struct(req); err != nil {
		return Comment{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var out Comment
	if err := c.doJSON(ctx, http.MethodPost, articlePath(articleID)+"/comments", req, true, &out); err != nil {
		return Comment{}, err
	}
	return out, nil
}

// Like adds one like and returns the new total.
func (c *Client) Like(ctx context.Context, articleID int64) (int, error) {
	var out likeResponse
	if err := c.doJSON(ctx, http.MethodPost, articlePath(articleID)+"/like", nil, true, &out); err != nil {
		return 0, err
	}
	return out.LikeCount, nil
}

func (c *Client) draftFields(draft ArticleDraft) ([]formField, error) {
	draft.Title = strings.TrimSpace(draft.Title)
	if err := c.validate.Struct(draft); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	categories, err := json.Marshal(draft.Categories)
	if err != nil {
		return nil, fmt.Errorf("encode categories: %w", err)
	}
	status := "public"
	if draft.Private {
		status = "private"
	}
	return []formField{
		{name: "title", value: draft.Title},
		{name: "categories", value: string(categories)},
		{name: "content", value: draft.Content},
		{name: "public_status", value: status},
	}, nil
}

func draftFiles(draft ArticleDraft) []formFile {
	var files []formFile
	if draft.Thumbnail != nil {
		files = append(files, formFile{name: "thumbnail", upload: *draft.Thumbnail})
	}
	for _, f := range draft.Files {
		files = append(files, formFile{name: "files", upload: f})
	}
	return files
}

func decodeArticleList(raw json.RawMessage) ([]Article, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []Article
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode articles: %w", err)
		}
		return list, nil
	}
	var wrapped struct {
		Articles []Article `json:"articles"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode articles: %w", err)
	}
	return wrapped.Articles, nil
}

func articlePath(id int64) string {
	return "/articles/" + strconv.FormatInt(id, 10)
}
