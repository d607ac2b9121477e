package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// InitResult is the output of grab init.
type InitResult struct {
	DBPath     string   `json:"db_path"`
	Migrations []string `json:"migrations"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create working directories and migrate the database",
		Long: `Create the data, media, inbox, log and export directories and apply any
pending schema migrations. Running init again applies nothing new.

Example:
  grab init
  grab init --home ~/purchases`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer env.Close()

			result := InitResult{DBPath: env.settings.DBPath, Migrations: env.applied}
			if result.Migrations == nil {
				result.Migrations = []string{}
			}
			return newFormatter(cmd, rootOpts).Emit(result, func(w io.Writer) error {
				fmt.Fprintf(w, "Initialized. DB: %s\n", result.DBPath)
				if len(result.Migrations) == 0 {
					_, err := fmt.Fprintln(w, "Migrations: none new")
					return err
				}
				_, err := fmt.Fprintf(w, "Migrations: %s\n", strings.Join(result.Migrations, ", "))
				return err
			})
		},
	}
}
