package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbranch/dbranch/internal/audit"
	"github.com/dbranch/dbranch/internal/branch"
	"github.com/dbranch/dbranch/internal/config"
	"github.com/dbranch/dbranch/internal/meta"
	"github.com/dbranch/dbranch/internal/session"
)

// env wires a command invocation to the configuration, metadata store, and
// orchestrator. Every command builds one and closes it on exit.
type env struct {
	cfg   *config.Config
	store *meta.Store
	orch  *branch.Orchestrator
}

func newEnv(opts *RootOptions) (*env, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to prepare data directory", err)
	}

	store, err := meta.Open(cfg.MetaPath(meta.FileName))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open metadata store", err)
	}

	cloner := &branch.FileCloner{}
	if cfg.Owner.UID >= 0 || cfg.Owner.GID >= 0 {
		cloner.Owner = &branch.Owner{UID: cfg.Owner.UID, GID: cfg.Owner.GID}
	}

	return &env{
		cfg:   cfg,
		store: store,
		orch:  branch.New(store, cfg.DataDir, cloner),
	}, nil
}

func (e *env) Close() {
	if e.store != nil {
		e.store.Close()
	}
}

// openSession opens an audited session on a named database in the data
// directory.
func (e *env) openSession(name string) (*session.Session, error) {
	path := e.orch.PathFor(name)
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("database %s not found", name), err)
	}

	var opts []session.Option
	if len(e.cfg.Audit.ObjectKinds) > 0 {
		opts = append(opts, session.WithAuditOptions(
			audit.WithObjectKinds(e.cfg.Audit.ObjectKinds...)))
	}
	s, err := session.Open(path, opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to open database %s", name), err)
	}
	return s, nil
}

// formatter builds the output formatter for a command invocation.
func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
