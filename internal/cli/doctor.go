package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/grab/internal/store"
)

// Check statuses reported by doctor.
const (
	CheckOK   = "ok"
	CheckWarn = "warn"
	CheckFail = "fail"
)

// Check is one doctor finding.
type Check struct {
	Name   string `json:"check"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment grab runs in",
		Long: `Check the configured directories, the database and its migrations, and
the inbox. Exits non-zero when any check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd, rootOpts, false)
			if err != nil {
				return err
			}
			defer env.Close()

			checks := runChecks(cmd, env)
			err = newFormatter(cmd, rootOpts).Emit(checks, func(w io.Writer) error {
				fmt.Fprintln(w, "Doctor results:")
				for _, c := range checks {
					fmt.Fprintf(w, "- [%s] %s: %s\n", strings.ToUpper(c.Status), c.Name, c.Detail)
				}
				return nil
			})
			if err != nil {
				return err
			}
			for _, c := range checks {
				if c.Status == CheckFail {
					return NewExitError(ExitFailure, "doctor found problems")
				}
			}
			return nil
		},
	}
}

func runChecks(cmd *cobra.Command, env *environment) []Check {
	s := env.settings
	checks := []Check{{Name: "go_runtime", Status: CheckOK, Detail: runtime.Version()}}

	for _, d := range []struct{ name, path string }{
		{"db_parent", filepath.Dir(s.DBPath)},
		{"media_dir", s.MediaDir},
		{"log_dir", s.LogDir},
		{"export_dir", s.ExportDir},
	} {
		checks = append(checks, writableCheck(d.name, d.path))
	}
	checks = append(checks, inboxCheck(s.InboxDir))

	if _, err := os.Stat(s.DBPath); err != nil {
		return append(checks, Check{Name: "database", Status: CheckWarn, Detail: "not created yet; run grab init"})
	}
	st, err := store.Open(s.DBPath)
	if err != nil {
		return append(checks, Check{Name: "database", Status: CheckFail, Detail: err.Error()})
	}
	defer st.Close()
	checks = append(checks, Check{Name: "database", Status: CheckOK, Detail: s.DBPath})

	applied, err := st.AppliedMigrations(cmd.Context())
	switch {
	case err != nil:
		checks = append(checks, Check{Name: "migrations", Status: CheckFail, Detail: err.Error()})
	case len(applied) == 0:
		checks = append(checks, Check{Name: "migrations", Status: CheckWarn, Detail: "none applied; run grab init"})
	default:
		checks = append(checks, Check{Name: "migrations", Status: CheckOK, Detail: strings.Join(applied, ", ")})
	}
	return checks
}

func writableCheck(name, dir string) Check {
	f, err := os.CreateTemp(dir, ".grab-doctor-*")
	if err != nil {
		return Check{Name: name, Status: CheckFail, Detail: err.Error()}
	}
	f.Close()
	os.Remove(f.Name())
	return Check{Name: name, Status: CheckOK, Detail: dir}
}

func inboxCheck(dir string) Check {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Check{Name: "inbox", Status: CheckFail, Detail: err.Error()}
	}
	n := 0
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json", ".eml":
			n++
		}
	}
	if n == 0 {
		return Check{Name: "inbox", Status: CheckWarn, Detail: dir + " holds no message files"}
	}
	return Check{Name: "inbox", Status: CheckOK, Detail: fmt.Sprintf("%s (%d message files)", dir, n)}
}
