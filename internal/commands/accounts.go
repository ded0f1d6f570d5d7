package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/ledger/internal/accounts"
	"github.com/cleared-dev/ledger/internal/model"
)

func newAccountsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage the chart of accounts",
	}
	cmd.AddCommand(
		newAccountsListCommand(root),
		newAccountsAddCommand(root),
		newAccountsImportCommand(root),
		newAccountsExportCommand(root),
		newAccountsMoveCommand(root),
		newAccountsDeactivateCommand(root),
		newAccountsBalanceCommand(root),
	)
	return cmd
}

func newAccountsListCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the chart of accounts as a tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd, root, func(p *project) error {
				list, err := p.accounts.List(cmd.Context(), p.tenant)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "CODE\tNAME\tTYPE\tCLASSIFICATION\tACTIVE\tBALANCE")
				for _, a := range list {
					fmt.Fprintf(w, "%s\t%s%s\t%s\t%s\t%t\t%s\n",
						a.Code, strings.Repeat("  ", a.Level-1), a.Name, a.Type, a.Classification, a.Active, a.CurrentBalance.StringFixed(2))
				}
				return w.Flush()
			})
		},
	}
}

func newAccountsAddCommand(root *rootOptions) *cobra.Command {
	var in accounts.NewAccount
	var typ, class string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an account; the code is generated unless --code is given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Type = model.AccountType(typ)
			in.Classification = model.Classification(class)
			return withProject(cmd, root, func(p *project) error {
				a, err := p.accounts.Create(cmd.Context(), p.tenant, in)
				if err != nil {
					return err
				}
				if err := p.saveChart(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s %s (%s)\n", a.Code, a.Name, a.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "account name (required)")
	cmd.Flags().StringVar(&typ, "type", "", "asset, liability, equity, income or expense (required)")
	cmd.Flags().StringVar(&class, "classification", "", "reporting classification, e.g. current_asset (required)")
	cmd.Flags().StringVar(&in.ParentCode, "parent", "", "parent account code")
	cmd.Flags().StringVar(&in.Code, "code", "", "explicit account code")
	cmd.Flags().BoolVar(&in.RequireCostCenter, "require-cost-center", false, "lines must carry a cost center")
	cmd.Flags().BoolVar(&in.RequireDepartment, "require-department", false, "lines must carry a department")
	cmd.Flags().BoolVar(&in.RequireProject, "require-project", false, "lines must carry a project")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("classification")
	return cmd
}

func newAccountsImportCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import accounts from a CSV or XLSX chart; existing codes are skipped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return err
			}
			records, err := readChart(args[0])
			if err != nil {
				return err
			}
			return withProject(cmd, root, func(p *project) error {
				added, err := p.accounts.Import(cmd.Context(), p.tenant, records)
				if err != nil {
					return err
				}
				if err := p.saveChart(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d accounts\n", added, len(records))
				return nil
			})
		},
	}
}

func newAccountsExportCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Export the chart of accounts to CSV or XLSX",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, root, func(p *project) error {
				records, err := p.accounts.Export(cmd.Context(), p.tenant)
				if err != nil {
					return err
				}
				if err := writeChart(args[0], records); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d accounts to %s\n", len(records), args[0])
				return nil
			})
		},
	}
}

func newAccountsMoveCommand(root *rootOptions) *cobra.Command {
	var parent string

	cmd := &cobra.Command{
		Use:   "move <code>",
		Short: "Move an account and its subtree under a new parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, root, func(p *project) error {
				ctx := cmd.Context()
				a, err := p.accounts.GetByCode(ctx, p.tenant, args[0])
				if err != nil {
					return err
				}
				var parentID *uuid.UUID
				if parent != "" {
					pa, err := p.accounts.GetByCode(ctx, p.tenant, parent)
					if err != nil {
						return err
					}
					parentID = &pa.ID
				}
				moved, err := p.accounts.Move(ctx, p.tenant, a.ID, parentID)
				if err != nil {
					return err
				}
				if err := p.saveChart(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Moved %s to %s\n", moved.Code, moved.TreePath)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "new parent code; empty makes the account a root")
	return cmd
}

func newAccountsDeactivateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <code>",
		Short: "Stop an account from accepting postings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, root, func(p *project) error {
				ctx := cmd.Context()
				a, err := p.accounts.GetByCode(ctx, p.tenant, args[0])
				if err != nil {
					return err
				}
				if _, err := p.accounts.Deactivate(ctx, p.tenant, a.ID); err != nil {
					return err
				}
				if err := p.saveChart(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %s\n", a.Code)
				return nil
			})
		},
	}
}

func newAccountsBalanceCommand(root *rootOptions) *cobra.Command {
	var asOf string
	var children bool

	cmd := &cobra.Command{
		Use:   "balance <code>",
		Short: "Print an account balance as of a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Now().UTC()
			if asOf != "" {
				d, err := time.Parse(dateLayout, asOf)
				if err != nil {
					return fmt.Errorf("parsing --as-of: %w", err)
				}
				date = d
			}
			return withProject(cmd, root, func(p *project) error {
				ctx := cmd.Context()
				a, err := p.accounts.GetByCode(ctx, p.tenant, args[0])
				if err != nil {
					return err
				}
				snap, err := p.accounts.ResolveBalance(ctx, p.tenant, a.ID, date, children)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snap)
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "balance date as YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&children, "children", false, "include descendant accounts")
	return cmd
}
