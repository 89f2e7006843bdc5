// Command client logs in against the auth API and keeps a session alive,
// printing the current user on an interval. Expired access tokens are
// refreshed by the session without interrupting the loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/rryowa/vidauth/internal/client"
	"github.com/rryowa/vidauth/internal/util"
)

func main() {
	login := flag.String("login", "", "handle or contact to log in with")
	interval := flag.Duration("interval", 30*time.Second, "how often to fetch the current user")
	parallel := flag.Int("parallel", 2, "concurrent requests per tick")
	flag.Parse()

	logger := util.NewZapLogger()
	defer func() { _ = logger.Sync() }()

	if *login == "" {
		logger.Fatal("-login is required")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		logger.Fatalw("Failed to read password", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(util.NewClientConfig(), client.WithLogger(logger))
	session, err := c.Login(ctx, *login, string(pw))
	if err != nil {
		logger.Fatalw("Login failed", "error", err)
	}
	logger.Infow("Session started", "user", session.User().Handle)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < *parallel; i++ {
			g.Go(func() error {
				profile, err := session.CurrentUser(gctx)
				if err != nil {
					return err
				}
				logger.Infow("Current user", "worker", i, "handle", profile.Handle, "displayName", profile.DisplayName)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			logger.Errorw("Session ended", "error", err)
			break
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
			continue
		}
		break
	}

	logoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Logout(logoutCtx); err != nil {
		logger.Errorw("Logout failed", "error", err)
		return
	}
	logger.Info("Logged out")
}
