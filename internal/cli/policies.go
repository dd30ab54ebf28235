package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tossie79/tmhcc-insurance/internal/apiclient"
)

type backendOptions struct {
	url     string
	timeout time.Duration
}

func (o backendOptions) client(app *App) (*apiclient.Client, error) {
	return apiclient.New(apiclient.Config{
		BaseURL: o.url,
		Timeout: o.timeout,
		Logger:  app.log.WithName("apiclient"),
	})
}

func newPoliciesCmd(app *App) *cobra.Command {
	opts := &backendOptions{}

	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Query the policy backend",
		Example: strings.TrimSpace(`
policydash policies list --format table
policydash policies show TMPROP2024001 --format edn --pretty
`),
	}
	cmd.PersistentFlags().StringVar(&opts.url, "backend-url", defaultBackendURL, "Base URL of the policy backend")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "backend-timeout", apiclient.DefaultTimeout, "Timeout for one backend request")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(app)
			if err != nil {
				return err
			}
			policies, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			return writeOut(cmd, app, policies)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <policy-number>",
		Short: "Show one policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(app)
			if err != nil {
				return err
			}
			policyNumber := strings.TrimSpace(args[0])
			p, err := c.Get(cmd.Context(), policyNumber)
			if err != nil {
				return policyLookupError{policyNumber: policyNumber, err: err}
			}
			return writeOut(cmd, app, p)
		},
	})

	return cmd
}
