package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newFixtureCmd(app *App) *cobra.Command {
	var (
		addr   string
		dbPath string
		reseed bool
	)

	cmd := &cobra.Command{
		Use:   "fixture-api",
		Short: "Run the sample policy backend",
		Long: strings.TrimSpace(`
Serve GET /policies/, GET /policies/{policyNumber} and GET /health from a
local SQLite database seeded with sample policies. Meant for development
and demos; it has no write endpoints.
`),
		Example: strings.TrimSpace(`
policydash fixture-api --addr 127.0.0.1:8000 --db ./policies.db
policydash fixture-api --reseed
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			g, gctx := errgroup.WithContext(ctx)
			fx, err := startFixture(gctx, g, app.log.WithName("fixture"), addr, dbPath, reseed)
			if err != nil {
				return err
			}
			_ = writeOut(cmd, app, map[string]any{
				"data": map[string]any{
					"addr":      fx.addr,
					"url":       fx.url,
					"db":        dbPath,
					"startedAt": time.Now().UTC().Format(time.RFC3339Nano),
				},
				"_hints": []string{"policydash serve --backend-url " + fx.url},
			})
			fmt.Fprintf(cmd.ErrOrStderr(), "Sample policy backend running at %s (db=%s)\n", fx.url, dbPath)
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", defaultFixtureAddr, "Bind address (host:port or :port)")
	cmd.Flags().StringVar(&dbPath, "db", defaultFixtureDB, "SQLite database path")
	cmd.Flags().BoolVar(&reseed, "reseed", false, "Replace stored policies with fresh seed data")
	return cmd
}
