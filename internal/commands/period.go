package commands

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/ledger/internal/config"
	"github.com/cleared-dev/ledger/internal/gitops"
	"github.com/cleared-dev/ledger/internal/model"
)

const dateLayout = "2006-01-02"

func newPeriodCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "period",
		Short: "List, close and reopen accounting periods",
	}

	var lockClosed bool
	closeCmd := &cobra.Command{
		Use:   "close <code>",
		Short: "Close a period to posting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPeriodStatus(cmd, root, args[0], model.PeriodClosed, lockClosed)
		},
	}
	closeCmd.Flags().BoolVar(&lockClosed, "lock", false, "mark the period locked")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the tenant's periods",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withProject(cmd, root, func(p *project) error {
					periods, err := p.store.ListPeriods(cmd.Context(), p.tenant)
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "CODE\tKIND\tSTART\tEND\tSTATUS\tLOCKED")
					for _, pr := range periods {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
							pr.Code, pr.Kind, pr.Start.Format(dateLayout), pr.End.Format(dateLayout), pr.Status, pr.Locked)
					}
					return w.Flush()
				})
			},
		},
		closeCmd,
		&cobra.Command{
			Use:   "open <code>",
			Short: "Reopen a period",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return setPeriodStatus(cmd, root, args[0], model.PeriodOpen, false)
			},
		},
		&cobra.Command{
			Use:   "adjust <code>",
			Short: "Open a period to adjusting vouchers only",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return setPeriodStatus(cmd, root, args[0], model.PeriodAdjustment, false)
			},
		},
	)
	return cmd
}

// setPeriodStatus updates the store, mirrors the change into ledger.yaml
// and commits the project when it is versioned.
func setPeriodStatus(cmd *cobra.Command, root *rootOptions, code string, status model.PeriodStatus, locked bool) error {
	return withProject(cmd, root, func(p *project) error {
		ctx := cmd.Context()
		updated, err := p.periods.SetStatus(ctx, p.tenant, code, status, locked)
		if err != nil {
			return err
		}

		if p.recordPeriod(updated) {
			if err := config.Save(filepath.Join(p.dir, configFile), p.cfg); err != nil {
				return err
			}
		}

		msg := fmt.Sprintf("Period %s is %s", updated.Code, updated.Status)
		if updated.Locked {
			msg += " (locked)"
		}

		if p.cfg.Git.Enabled && gitops.IsRepo(p.dir) {
			hash, err := gitops.CommitAll(ctx, p.dir, fmt.Sprintf("period: %s %s", updated.Status, updated.Code), gitAuthor(p.cfg))
			if err != nil {
				return err
			}
			if hash != "" {
				msg += fmt.Sprintf(" (%s)", hash)
			}
		}

		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	})
}

// recordPeriod writes pr into the tenant's period list in the loaded
// config. It reports whether the config changed.
func (p *project) recordPeriod(pr model.Period) bool {
	for i := range p.cfg.Tenants {
		tc := &p.cfg.Tenants[i]
		if tc.ID != p.tenant {
			continue
		}
		for j := range tc.Periods {
			if tc.Periods[j].Code == pr.Code {
				tc.Periods[j] = periodConfig(pr)
				return true
			}
		}
		tc.Periods = append(tc.Periods, periodConfig(pr))
		return true
	}
	return false
}

func periodConfig(p model.Period) config.PeriodConfig {
	return config.PeriodConfig{
		Code:   p.Code,
		Kind:   string(p.Kind),
		Start:  p.Start.Format(dateLayout),
		End:    p.End.Format(dateLayout),
		Status: string(p.Status),
		Locked: p.Locked,
	}
}
