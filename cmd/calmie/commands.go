package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"calmie/internal/events"
	"calmie/internal/jobs"
	"calmie/internal/oauth"
	"calmie/internal/service"
	"calmie/internal/session"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "sign in with email and password",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Required: true},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, EnvVars: []string{"CALMIE_PASSWORD"}},
		},
		Action: action(func(c *cli.Context, rt *runtime) error {
			password, err := passwordFrom(c)
			if err != nil {
				return err
			}
			auth := service.NewAuthService(rt.client, rt.store, rt.log)
			snap, err := auth.Login(c.Context, service.LoginInput{
				Email:    c.String("email"),
				Password: password,
			})
			if err != nil {
				return err
			}
			printSession(c.App.Writer, snap, rt.store.Degraded())
			return nil
		}),
	}
}

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "create an account and sign in",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Required: true},
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, EnvVars: []string{"CALMIE_PASSWORD"}},
		},
		Action: action(func(c *cli.Context, rt *runtime) error {
			password, err := passwordFrom(c)
			if err != nil {
				return err
			}
			auth := service.NewAuthService(rt.client, rt.store, rt.log)
			snap, err := auth.Register(c.Context, service.RegisterInput{
				Email:    c.String("email"),
				Password: password,
				Username: c.String("username"),
			})
			if err != nil {
				return err
			}
			printSession(c.App.Writer, snap, rt.store.Degraded())
			return nil
		}),
	}
}

func oauthLoginCommand() *cli.Command {
	return &cli.Command{
		Name:  "oauth-login",
		Usage: "sign in with Google in the browser",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-browser", Usage: "only print the sign-in url"},
		},
		Action: action(func(c *cli.Context, rt *runtime) error {
			opener := func(url string) error {
				fmt.Fprintf(c.App.ErrWriter, "Open this url to sign in:\n\n  %s\n\n", url)
				if c.Bool("no-browser") {
					return nil
				}
				if err := openBrowser(url); err != nil {
					rt.log.Debug().Err(err).Msg("could not launch browser")
				}
				return nil
			}

			flow, err := oauth.New(c.Context, rt.cfg.OAuth, oauth.WithOpener(opener), oauth.WithLogger(rt.log))
			if err != nil {
				return err
			}
			idToken, err := flow.IDToken(c.Context)
			if err != nil {
				return err
			}

			auth := service.NewAuthService(rt.client, rt.store, rt.log)
			snap, err := auth.OAuthLogin(c.Context, idToken)
			if err != nil {
				return err
			}
			printSession(c.App.Writer, snap, rt.store.Degraded())
			return nil
		}),
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "forget the stored session",
		Action: action(func(c *cli.Context, rt *runtime) error {
			service.NewAuthService(rt.client, rt.store, rt.log).Logout(c.Context)
			fmt.Fprintln(c.App.Writer, "signed out")
			return nil
		}),
	}
}

func whoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "show the current session",
		Action: action(func(c *cli.Context, rt *runtime) error {
			printSession(c.App.Writer, rt.store.Current(), rt.store.Degraded())
			return nil
		}),
	}
}

func profileCommand() *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "show or edit your profile",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "show your page with articles and stats",
				Action: action(func(c *cli.Context, rt *runtime) error {
					profiles := service.NewProfileService(rt.client, rt.store, rt.log)
					page, err := profiles.Show(c.Context)
					if err != nil {
						return explain(err)
					}

					w := c.App.Writer
					fmt.Fprintf(w, "%s (#%d)\n", page.User.Username, page.User.ID)
					if page.User.IntroductionText != "" {
						fmt.Fprintf(w, "%s\n", page.User.IntroductionText)
					}
					if page.User.UserIcon != "" {
						fmt.Fprintf(w, "icon: %s\n", page.User.UserIcon)
					}
					fmt.Fprintf(w, "\narticles %d  likes %d  views %d  comments %d  since %s\n",
						page.Stats.TotalArticles, page.Stats.TotalLikes, page.Stats.TotalAccess,
						page.Stats.TotalComments, page.Stats.MemberSince)
					for _, a := range page.Articles {
						fmt.Fprintf(w, "  - %s (%d likes, %d comments)\n", a.Title, a.LikeCount, a.CommentCount)
					}
					return nil
				}),
			},
			{
				Name:  "update",
				Usage: "change username, introduction or icon",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Aliases: []string{"u"}},
					&cli.StringFlag{Name: "intro"},
					&cli.PathFlag{Name: "icon", Usage: "image file to use as icon"},
				},
				Action: action(func(c *cli.Context, rt *runtime) error {
					snap, err := rt.store.Require()
					if err != nil {
						return explain(err)
					}

					input := service.ProfileInput{
						Username:         snap.User.Username,
						IntroductionText: snap.User.IntroductionText,
					}
					if c.IsSet("username") {
						input.Username = c.String("username")
					}
					if c.IsSet("intro") {
						input.IntroductionText = c.String("intro")
					}
					if path := c.Path("icon"); path != "" {
						data, err := os.ReadFile(path)
						if err != nil {
							return fmt.Errorf("read icon: %w", err)
						}
						input.Icon = data
						input.IconFilename = filepath.Base(path)
					}

					profiles := service.NewProfileService(rt.client, rt.store, rt.log)
					profile, err := profiles.Update(c.Context, input)
					if err != nil {
						return explain(err)
					}
					fmt.Fprintf(c.App.Writer, "profile updated: %s\n", profile.Username)
					return nil
				}),
			},
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "keep the stored profile fresh until interrupted",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "sync a single time and exit"},
		},
		Action: action(func(c *cli.Context, rt *runtime) error {
			profiles := service.NewProfileService(rt.client, rt.store, rt.log)

			if c.Bool("once") {
				changed, err := profiles.Sync(c.Context)
				if err != nil {
					return explain(err)
				}
				fmt.Fprintf(c.App.Writer, "changed: %t\n", changed)
				return nil
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			scheduler := jobs.NewScheduler(rt.cfg.Sync, profiles, rt.log)
			if err := scheduler.Start(); err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}

			if rt.events != nil {
				refresher := events.NewSessionRefresher(rt.store, rt.origin, rt.log)
				consumer := events.NewConsumer(rt.events, rt.cfg.Events, rt.origin, rt.log, refresher)
				go func() {
					if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
						rt.log.Error().Err(err).Msg("session event consumer stopped")
					}
				}()
				defer func() {
					if err := consumer.Close(context.Background()); err != nil {
						rt.log.Debug().Err(err).Msg("remove consumer group failed")
					}
				}()
			}

			rt.log.Info().Str("state", rt.store.Current().State.String()).Msg("sync running")
			<-ctx.Done()
			rt.log.Info().Msg("shutdown signal received")

			<-scheduler.Stop().Done()
			return nil
		}),
	}
}

func printSession(w io.Writer, snap session.Snapshot, degraded bool) {
	switch snap.State {
	case session.StateAuthenticated:
		fmt.Fprintf(w, "signed in as %s (#%d)\n", snap.User.Username, snap.User.ID)
	case session.StateUnauthenticated:
		fmt.Fprintln(w, "not signed in")
	default:
		fmt.Fprintln(w, "session unknown")
	}
	if degraded {
		fmt.Fprintln(w, "warning: storage unavailable, the session will not survive this process")
	}
}

func explain(err error) error {
	switch {
	case errors.Is(err, session.ErrNotAuthenticated):
		return errors.New("not signed in, run `calmie login` first")
	case errors.Is(err, session.ErrSessionUnresolved):
		return errors.New("session is still loading, try again")
	case errors.Is(err, service.ErrSessionExpired):
		return errors.New("session expired, sign in again")
	}
	return err
}

func passwordFrom(c *cli.Context) (string, error) {
	if p := c.String("password"); p != "" {
		return p, nil
	}
	fmt.Fprint(c.App.ErrWriter, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
