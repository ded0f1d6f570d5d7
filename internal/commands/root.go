package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/ledger/internal/buildinfo"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	dir    string
	tenant string
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     "ledger",
		Short:   "Multi-tenant general ledger posting and validation",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.dir, "dir", "C", ".", "project directory containing ledger.yaml")
	rootCmd.PersistentFlags().StringVar(&opts.tenant, "tenant", "", "tenant id (defaults to the first configured tenant)")

	rootCmd.AddCommand(
		newInitCommand(opts),
		newAccountsCommand(opts),
		newVoucherCommand(opts),
		newPeriodCommand(opts),
		newAuditCommand(opts),
	)

	return rootCmd
}

// withProject opens the project for the duration of fn.
func withProject(cmd *cobra.Command, opts *rootOptions, fn func(p *project) error) error {
	p, err := openProject(cmd.Context(), opts.dir, opts.tenant)
	if err != nil {
		return err
	}
	defer p.Close()
	return fn(p)
}
