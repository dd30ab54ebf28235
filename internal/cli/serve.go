package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tossie79/tmhcc-insurance/internal/apiclient"
	"github.com/tossie79/tmhcc-insurance/internal/fixture"
	"github.com/tossie79/tmhcc-insurance/internal/notify"
	"github.com/tossie79/tmhcc-insurance/internal/web"
)

const (
	defaultAddr        = "127.0.0.1:3340"
	defaultFixtureAddr = "127.0.0.1:8000"
	defaultBackendURL  = "http://" + defaultFixtureAddr
	defaultFixtureDB   = "policydash-fixture.db"
	shutdownTimeout    = 5 * time.Second
)

type serveOptions struct {
	addr            string
	backendURL      string
	backendTimeout  time.Duration
	notificationTTL time.Duration
	sessionIdleTTL  time.Duration
	datastarURL     string
	open            bool

	withFixture bool
	fixtureAddr string
	fixtureDB   string
	reseed      bool
}

func newServeCmd(app *App) *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the policy dashboard",
		Long: strings.TrimSpace(`
Serve the policy dashboard. The page talks to this process only; every
table, search result and detail view is fetched from the policy backend at
--backend-url and pushed to the browser as a partial update.

With --with-fixture a sample backend backed by a local SQLite database is
started alongside the dashboard and --backend-url defaults to it.
`),
		Example: strings.TrimSpace(`
# Dashboard plus sample backend
policydash serve --with-fixture

# Dashboard against an existing backend
policydash serve --addr :3340 --backend-url http://policies.internal:8000
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.withFixture && !cmd.Flags().Changed("backend-url") {
				opts.backendURL = ""
			}
			return runServe(cmd, app, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", defaultAddr, "Bind address (host:port or :port)")
	cmd.Flags().StringVar(&opts.backendURL, "backend-url", defaultBackendURL, "Base URL of the policy backend")
	cmd.Flags().DurationVar(&opts.backendTimeout, "backend-timeout", apiclient.DefaultTimeout, "Timeout for one backend request")
	cmd.Flags().DurationVar(&opts.notificationTTL, "notification-ttl", notify.DefaultTTL, "How long a notification stays on screen")
	cmd.Flags().DurationVar(&opts.sessionIdleTTL, "session-idle-ttl", 2*time.Hour, "Forget browser sessions idle for this long")
	cmd.Flags().StringVar(&opts.datastarURL, "datastar-url", web.DefaultDatastarURL, "Where the page loads the datastar client from")
	cmd.Flags().BoolVar(&opts.open, "open", false, "Open the dashboard in your default browser")
	cmd.Flags().BoolVar(&opts.withFixture, "with-fixture", false, "Also run the sample backend")
	cmd.Flags().StringVar(&opts.fixtureAddr, "fixture-addr", defaultFixtureAddr, "Bind address of the sample backend")
	cmd.Flags().StringVar(&opts.fixtureDB, "fixture-db", defaultFixtureDB, "SQLite database of the sample backend")
	cmd.Flags().BoolVar(&opts.reseed, "reseed", false, "Replace the sample backend's policies with fresh seed data")
	return cmd
}

func runServe(cmd *cobra.Command, app *App, opts serveOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if opts.withFixture {
		fx, err := startFixture(gctx, g, app.log.WithName("fixture"), opts.fixtureAddr, opts.fixtureDB, opts.reseed)
		if err != nil {
			return err
		}
		if opts.backendURL == "" {
			opts.backendURL = fx.url
		}
	}

	srv, err := web.NewServer(web.ServerConfig{
		Addr:            opts.addr,
		BackendURL:      opts.backendURL,
		BackendTimeout:  opts.backendTimeout,
		NotificationTTL: opts.notificationTTL,
		SessionIdleTTL:  opts.sessionIdleTTL,
		DatastarURL:     opts.datastarURL,
		Logger:          app.log.WithName("web"),
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	ln, err := net.Listen("tcp", strings.TrimSpace(opts.addr))
	if err != nil {
		return err
	}
	actualAddr := ln.Addr().String()
	url := "http://" + actualAddr + "/"
	serveHTTP(gctx, g, ln, srv.Handler())

	opened := false
	openErr := ""
	if opts.open {
		if err := openURL(url); err != nil {
			openErr = err.Error()
		} else {
			opened = true
		}
	}
	hints := []string{}
	if !opened {
		hints = append(hints, "open "+url)
	}
	_ = writeOut(cmd, app, map[string]any{
		"data": map[string]any{
			"addr":        actualAddr,
			"url":         url,
			"backendUrl":  opts.backendURL,
			"withFixture": opts.withFixture,
			"opened":      opened,
			"openError":   openErr,
			"startedAt":   time.Now().UTC().Format(time.RFC3339Nano),
		},
		"_hints": hints,
	})
	fmt.Fprintf(cmd.ErrOrStderr(), "Policy dashboard running at %s (backend=%s)\n", url, opts.backendURL)
	if openErr != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Failed to open browser: %s\n", openErr)
	}

	return g.Wait()
}

type runningFixture struct {
	addr string
	url  string
}

// startFixture opens and seeds the sample database, then serves it on addr
// under g. The store is closed once g's context ends.
func startFixture(ctx context.Context, g *errgroup.Group, log logr.Logger, addr, dbPath string, reseed bool) (*runningFixture, error) {
	st, err := fixture.Open(ctx, dbPath, log)
	if err != nil {
		return nil, err
	}
	if _, err := st.Seed(ctx, time.Now(), reseed); err != nil {
		_ = st.Close()
		return nil, err
	}
	fx, err := fixture.NewServer(st, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	serveHTTP(ctx, g, ln, fx.Handler())
	g.Go(func() error {
		<-ctx.Done()
		return st.Close()
	})
	actual := ln.Addr().String()
	return &runningFixture{addr: actual, url: "http://" + actual}, nil
}

// serveHTTP serves h on ln under g and shuts the server down gracefully when
// ctx ends.
func serveHTTP(ctx context.Context, g *errgroup.Group, ln net.Listener, h http.Handler) {
	hs := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	g.Go(func() error {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	})
}
