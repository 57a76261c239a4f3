package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/minus-twelve/roster"
	"github.com/minus-twelve/roster/client"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app holds what the subcommands share. Everything is built lazily so that
// commands which never touch storage or the API do not open them.
type app struct {
	configFile string
	cfg        roster.Config
	log        *logrus.Logger

	dir     *roster.Directory
	api     *client.Client
	session *roster.Manager
	closers []io.Closer
}

func (a *app) load() error {
	cfg, err := roster.LoadConfig(a.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg
	a.log = roster.NewLogger(cfg.Log, os.Stderr)
	return nil
}

func (a *app) directory(ctx context.Context) (*roster.Directory, error) {
	if a.dir != nil {
		return a.dir, nil
	}
	dir, err := roster.OpenDirectory(ctx, a.cfg, a.log)
	if err != nil {
		return nil, err
	}
	a.dir = dir
	a.closers = append(a.closers, dir)
	return dir, nil
}

// manager wires the API client and the session manager to each other and
// restores any persisted session.
func (a *app) manager(ctx context.Context) (*roster.Manager, *client.Client, error) {
	if a.session != nil {
		return a.session, a.api, nil
	}
	store, err := roster.CreateSessionStore(a.cfg)
	if err != nil {
		return nil, nil, err
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	api := client.New(a.cfg.API, client.WithLogger(a.log))
	m := roster.NewManager(api, store,
		roster.WithLogger(a.log),
		roster.WithConfig(roster.ManagerConfigFrom(a.cfg.Session)),
	)
	api.Bind(m)

	if err := m.Restore(ctx); err != nil {
		a.log.WithError(err).Warn("could not restore session")
	}
	a.session, a.api = m, api
	return m, api, nil
}

func (a *app) close() {
	if a.session != nil {
		a.session.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.WithError(err).Debug("close failed")
		}
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "roster",
		Short:         "Employee and project directory with session-aware API access",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	cmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "config file path (default ./roster.yaml)")

	cmd.AddCommand(
		newLoginCommand(a),
		newLogoutCommand(a),
		newStatusCommand(a),
		newRefreshCommand(a),
		newRegisterCommand(a),
		newUsersCommand(a),
		newRecordsCommand(a),
		newExportCommand(a),
		newServeCommand(a),
	)
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
