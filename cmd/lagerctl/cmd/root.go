// Package cmd implements lagerctl, a terminal client for a lagerkoll server:
// sign in, follow live changes, and move spreadsheets in and out.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lagerkoll/internal/client"
	"lagerkoll/internal/platform/logger"
)

var version = "dev"

const (
	keyServer    = "server"
	keyToken     = "token"
	keyLogLevel  = "log_level"
	keyLogFormat = "log_format"
)

// app is the state shared by every subcommand.
type app struct {
	v      *viper.Viper
	out    io.Writer
	logger *slog.Logger
}

// Execute runs lagerctl with the process arguments.
func Execute() error {
	root := NewRootCmd(viper.New(), os.Stdout)
	root.SetArgs(os.Args[1:])
	return root.Execute()
}

// NewRootCmd builds the command tree around v. Settings resolve from flags,
// then LAGERKOLL_* environment variables, then the config file.
func NewRootCmd(v *viper.Viper, out io.Writer) *cobra.Command {
	a := &app{v: v, out: out, logger: logger.Discard()}
	var cfgFile string

	root := &cobra.Command{
		Use:          "lagerctl",
		Short:        "Command line client for the lagerkoll warehouse server",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadConfig(cfgFile); err != nil {
				return err
			}
			a.logger = logger.NewWithWriter(cmd.ErrOrStderr(), v.GetString(keyLogFormat), v.GetString(keyLogLevel))
			return nil
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default: ~/.config/lagerkoll/config.yaml)")
	flags.String(keyServer, "http://localhost:8080", "lagerkoll server base URL")
	flags.String(keyToken, "", "bearer token (see 'lagerctl login')")
	flags.String("log-level", "warn", "log level for diagnostics on stderr")
	_ = v.BindPFlag(keyServer, flags.Lookup(keyServer))
	_ = v.BindPFlag(keyToken, flags.Lookup(keyToken))
	_ = v.BindPFlag(keyLogLevel, flags.Lookup("log-level"))

	v.SetDefault(keyLogFormat, "text")
	v.SetEnvPrefix("LAGERKOLL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(
		newLoginCmd(a),
		newWatchCmd(a),
		newImportCmd(a),
		newExportCmd(a),
	)
	return root
}

func (a *app) loadConfig(cfgFile string) error {
	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		a.v.SetConfigFile(defaultConfigPath())
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", a.v.ConfigFileUsed(), err)
	}
	return nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".lagerkoll", "config.yaml")
	}
	return filepath.Join(home, ".config", "lagerkoll", "config.yaml")
}

// api returns a REST client for the configured server and token.
func (a *app) api() *client.API {
	return client.NewAPI(a.v.GetString(keyServer), nil).WithToken(a.v.GetString(keyToken))
}

func (a *app) requireToken() error {
	if a.v.GetString(keyToken) == "" {
		return errors.New("not signed in: run 'lagerctl login' or set LAGERKOLL_TOKEN")
	}
	return nil
}

// wsURL maps the server base URL onto its /ws endpoint.
func wsURL(server string) string {
	u := strings.TrimRight(server, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}
