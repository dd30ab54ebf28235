package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tossie79/tmhcc-insurance/internal/format"
)

const envPrefix = "POLICYDASH"

type App struct {
	ConfigFile string
	LogLevel   string
	PrettyJSON bool
	Format     string

	log  logr.Logger
	zlog *zap.Logger
}

func NewRootCmd() *cobra.Command {
	app := &App{log: logr.Discard()}

	cmd := &cobra.Command{
		Use:           "policydash",
		Short:         "Read-only insurance policy dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: strings.TrimSpace(`
  # Run the dashboard against a local fixture backend
  policydash serve --with-fixture

  # Run the dashboard against an existing backend
  policydash serve --backend-url http://127.0.0.1:8000

  # Query the backend from the terminal
  policydash policies list --format table
  policydash policies show TMPROP2024001
`),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := app.loadConfig(cmd); err != nil {
				return err
			}
			return app.initLogger()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.zlog != nil {
				_ = app.zlog.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&app.ConfigFile, "config", "", "Config file (default: policydash.yaml in . or ~/.config/policydash)")
	cmd.PersistentFlags().StringVar(&app.LogLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&app.PrettyJSON, "pretty", false, "Pretty-print JSON/EDN output")
	cmd.PersistentFlags().StringVar(&app.Format, "format", "json", "Output format ("+strings.Join(format.Formats, "|")+")")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newFixtureCmd(app))
	cmd.AddCommand(newPoliciesCmd(app))

	return cmd
}

// loadConfig fills every flag of cmd the user did not set from the environment
// (POLICYDASH_<FLAG>) or the config file, in that order.
func (app *App) loadConfig(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	explicit := strings.TrimSpace(app.ConfigFile)
	if explicit == "" {
		explicit = strings.TrimSpace(os.Getenv(envPrefix + "_CONFIG"))
	}
	configureConfigFile(v, explicit)

	flagSets := []*pflag.FlagSet{cmd.Flags(), cmd.InheritedFlags()}
	for _, fs := range flagSets {
		if err := v.BindPFlags(fs); err != nil {
			return err
		}
	}
	if err := readConfigFile(v, explicit != ""); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var setErr error
	for _, fs := range flagSets {
		fs.VisitAll(func(f *pflag.Flag) {
			if f.Changed || f.Name == "config" || !v.IsSet(f.Name) {
				return
			}
			val := v.GetString(f.Name)
			if val == "" {
				return
			}
			if err := fs.Set(f.Name, val); err != nil && setErr == nil {
				setErr = fmt.Errorf("config: %s: %w", f.Name, err)
			}
		})
	}
	return setErr
}

func (app *App) initLogger() error {
	z, err := buildLogger(app.LogLevel)
	if err != nil {
		return err
	}
	app.zlog = z
	app.log = newLogr(z)
	return nil
}

func writeOut(cmd *cobra.Command, app *App, v any) error {
	return format.Write(cmd.OutOrStdout(), v, app.Format, app.PrettyJSON, !color.NoColor)
}
