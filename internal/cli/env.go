package cli

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roach88/grab/internal/config"
	"github.com/roach88/grab/internal/logging"
	"github.com/roach88/grab/internal/store"
)

// environment is what a command runs against: resolved settings, the process
// logger and, when requested, the migrated store.
type environment struct {
	settings *config.Settings
	log      *logrus.Logger
	store    *store.Store
	// migrations applied while opening the store
	applied []string

	closeLog func() error
}

// openEnvironment loads settings, creates the working directories and builds
// the logger. withStore also opens and migrates the database.
func openEnvironment(cmd *cobra.Command, opts *RootOptions, withStore bool) (*environment, error) {
	settings, err := config.Load(config.LoadOptions{
		Home:       opts.Home,
		ConfigFile: opts.ConfigFile,
		EnvFile:    opts.EnvFile,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if err := settings.EnsureDirectories(); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create directories", err)
	}

	level := settings.LogLevel
	if opts.Verbose {
		level = logrus.DebugLevel.String()
	}
	log, closeLog, err := logging.New(logging.Options{
		Level:  level,
		Dir:    settings.LogDir,
		Format: settings.LogFormat,
		Out:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}

	env := &environment{settings: settings, log: log, closeLog: closeLog}
	if !withStore {
		return env, nil
	}

	log.WithField("path", settings.DBPath).Debug("opening database")
	st, err := store.Open(settings.DBPath)
	if err != nil {
		env.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	env.store = st

	applied, err := st.Migrate(cmd.Context())
	if err != nil {
		env.Close()
		return nil, WrapExitError(ExitCommandError, "failed to migrate database", err)
	}
	env.applied = applied
	if len(applied) > 0 {
		log.WithField("migrations", applied).Info("migrations applied")
	}
	return env, nil
}

// Close releases the store and the log file.
func (e *environment) Close() error {
	var errs []error
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.log.WithError(err).Error("error closing database")
			errs = append(errs, err)
		}
	}
	if e.closeLog != nil {
		errs = append(errs, e.closeLog())
	}
	return errors.Join(errs...)
}
