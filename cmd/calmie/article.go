package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"calmie/internal/api"
	"calmie/internal/service"
)

func draftFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Required: true},
		&cli.StringSliceFlag{Name: "category", Aliases: []string{"c"}, Usage: "repeat for several categories"},
		&cli.StringFlag{Name: "content", Usage: "markdown body"},
		&cli.PathFlag{Name: "content-file", Usage: "read the markdown body from a file, - for stdin"},
		&cli.PathFlag{Name: "thumbnail", Usage: "cover image"},
		&cli.StringSliceFlag{Name: "file", Usage: "image referenced from the body, repeatable"},
		&cli.BoolFlag{Name: "private", Usage: "only visible to you"},
	}
}

func articleCommand() *cli.Command {
	return &cli.Command{
		Name:  "article",
		Usage: "read, write and react to articles",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "show the public timeline",
				Action: action(func(c *cli.Context, rt *runtime) error {
					articles := service.NewArticleService(rt.client, rt.store, rt.log)
					list, err := articles.List(c.Context)
					if err != nil {
						return err
					}
					w := c.App.Writer
					if len(list) == 0 {
						fmt.Fprintln(w, "no articles yet")
						return nil
					}
					for _, a := range list {
						fmt.Fprintf(w, "#%d  %s  (%d likes, %d comments)\n", a.ID, a.Title, a.LikeCount, a.CommentCount)
					}
					return nil
				}),
			},
			{
				Name:      "show",
				Usage:     "show one article with its comments",
				ArgsUsage: "<id>",
				Action: action(func(c *cli.Context, rt *runtime) error {
					id, err := articleID(c)
					if err != nil {
						return err
					}
					articles := service.NewArticleService(rt.client, rt.store, rt.log)
					detail, err := articles.Show(c.Context, id)
					if err != nil {
						return err
					}
					printArticle(c.App.Writer, detail)
					return nil
				}),
			},
			{
				Name:  "post",
				Usage: "publish a new article",
				Flags: draftFlags(),
				Action: action(func(c *cli.Context, rt *runtime) error {
					input, err := articleInput(c)
					if err != nil {
						return err
					}
					articles := service.NewArticleService(rt.client, rt.store, rt.log)
					ref, err := articles.Post(c.Context, input)
					if err != nil {
						return explain(err)
					}
					fmt.Fprintf(c.App.Writer, "posted article #%d\n", ref.ID)
					return nil
				}),
			},
			{
				Name:      "edit",
				Usage:     "replace one of your articles",
				ArgsUsage: "<id>",
				Flags:     draftFlags(),
				Action: action(func(c *cli.Context, rt *runtime) error {
					id, err := articleID(c)
					if err != nil {
						return err
					}
					input, err := articleInput(c)
					if err != nil {
						return err
					}
					articles := service.NewArticleService(rt.client, rt.store, rt.log)
					if _, err := articles.Edit(c.Context, id, input); err != nil {
						return explain(err)
					}
					fmt.Fprintf(c.App.Writer, "updated article #%d\n", id)
					return nil
				}),
			},
			{
				Name:      "comment",
				Usage:     "comment on an article",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "text", Aliases: []string{"m"}, Required: true},
				},
				Action: action(func(c *cli.Context, rt *runtime) error {
					id, err := articleID(c)
					if err != nil {
						return err
					}
					articles := service.NewArticleService(rt.client, rt.store, rt.log)
					cm, err := articles.Comment(c.Context, id, c.String("text"))
					if err != nil {
						return explain(err)
					}
					fmt.Fprintf(c.App.Writer, "%s: %s\n", cm.Username, cm.Comment)
					return nil
				}),
			},
			{
				Name:      "like",
				Usage:     "like an article",
				ArgsUsage: "<id>",
				Action: action(func(c *cli.Context, rt *runtime) error {
					id, err := articleID(c)
					if err != nil {
						return err
					}
					articles := service.NewArticleService(rt.client, rt.store, rt.log)
					n, err := articles.Like(c.Context, id)
					if err != nil {
						return explain(err)
					}
					fmt.Fprintf(c.App.Writer, "%d likes\n", n)
					return nil
				}),
			},
		},
	}
}

func articleID(c *cli.Context) (int64, error) {
	raw := c.Args().First()
	if raw == "" {
		return 0, fmt.Errorf("%s needs an article id", c.Command.Name)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(raw, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid article id %q", raw)
	}
	return id, nil
}

func articleInput(c *cli.Context) (service.ArticleInput, error) {
	input := service.ArticleInput{
		Title:      c.String("title"),
		Content:    c.String("content"),
		Categories: c.StringSlice("category"),
		Private:    c.Bool("private"),
	}

	if path := c.Path("content-file"); path != "" {
		var (
			data []byte
			err  error
		)
		if path == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return service.ArticleInput{}, fmt.Errorf("read content: %w", err)
		}
		input.Content = string(data)
	}

	if path := c.Path("thumbnail"); path != "" {
		att, err := readAttachment(path)
		if err != nil {
			return service.ArticleInput{}, err
		}
		input.Thumbnail = &att
	}
	for _, path := range c.StringSlice("file") {
		att, err := readAttachment(path)
		if err != nil {
			return service.ArticleInput{}, err
		}
		input.Files = append(input.Files, att)
	}
	return input, nil
}

func readAttachment(path string) (service.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return service.Attachment{}, fmt.Errorf("read %s: %w", path, err)
	}
	return service.Attachment{Filename: filepath.Base(path), Data: data}, nil
}

func printArticle(w io.Writer, a api.ArticleDetail) {
	fmt.Fprintf(w, "#%d %s\n", a.ID, a.Title)
	fmt.Fprintf(w, "by %s  %s", a.User.Username, a.PublicAt)
	if len(a.Category) > 0 {
		fmt.Fprintf(w, "  [%s]", strings.Join(a.Category, ", "))
	}
	fmt.Fprintf(w, "\n%d likes  %d views\n\n%s\n", a.LikeCount, a.AccessCount, a.Content)
	if len(a.Comments) == 0 {
		return
	}
	fmt.Fprintln(w, "\ncomments:")
	for _, cm := range a.Comments {
		fmt.Fprintf(w, "  %s: %s\n", cm.Username, cm.Comment)
	}
}
