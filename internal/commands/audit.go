package commands

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/ledger/internal/audit"
	"github.com/cleared-dev/ledger/internal/config"
)

func newAuditCommand(root *rootOptions) *cobra.Command {
	var failuresOnly bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the audit trail of the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// The trail is a file; no backend needs to be opened.
			if _, err := config.Load(filepath.Join(root.dir, configFile)); err != nil {
				return err
			}
			entries, err := audit.Read(root.dir)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTENANT\tACTION\tNUMBER\tSTAGE\tCODE\tDETAILS")
			for _, e := range entries {
				if root.tenant != "" && e.TenantID != root.tenant {
					continue
				}
				if failuresOnly && e.Code == "" {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Format(time.RFC3339), e.TenantID, e.Action, e.Number, e.Stage, e.Code, e.Details)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&failuresOnly, "failures", false, "only show entries carrying an error code")
	return cmd
}
