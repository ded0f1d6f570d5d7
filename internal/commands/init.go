package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/ledger/internal/accounts"
	"github.com/cleared-dev/ledger/internal/config"
	"github.com/cleared-dev/ledger/internal/currency"
	"github.com/cleared-dev/ledger/internal/gitops"
	"github.com/cleared-dev/ledger/internal/period"
)

type initOptions struct {
	name       string
	entityType string
	currency   string
	yearStart  string
	fiscalYear int
	driver     string
	git        bool
}

func newInitCommand(root *rootOptions) *cobra.Command {
	opts := initOptions{}

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new ledger project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := root.dir
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			tenant := root.tenant
			if tenant == "" {
				tenant = defaultTenant
			}
			return runInit(cmd.Context(), cmd.OutOrStdout(), absDir, tenant, opts)
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "business name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&opts.entityType, "entity-type", "service_company", "starter chart: service_company or trading_company")
	cmd.Flags().StringVar(&opts.currency, "currency", config.DefaultCurrency, "base currency")
	cmd.Flags().StringVar(&opts.yearStart, "year-start", config.DefaultYearStart, "fiscal year start as MM-DD")
	cmd.Flags().IntVar(&opts.fiscalYear, "fiscal-year", time.Now().Year(), "calendar year in which the first fiscal year starts")
	cmd.Flags().StringVar(&opts.driver, "driver", "file", "store driver: file, memory or postgres")
	cmd.Flags().BoolVar(&opts.git, "git", true, "version the project directory with git")

	return cmd
}

func runInit(ctx context.Context, out io.Writer, dir, tenant string, opts initOptions) error {
	configPath := filepath.Join(dir, configFile)
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", configPath, err)
	}

	base, err := currency.NormalizeCode(opts.currency)
	if err != nil {
		return err
	}
	cal, err := period.ParseCalendar(opts.yearStart)
	if err != nil {
		return err
	}

	// Create directory structure.
	for _, d := range []string{"accounts", "logs", "vouchers"} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	// Write ledger.yaml.
	cfg := config.Default()
	cfg.Store.Driver = opts.driver
	cfg.Git.Enabled = opts.git
	tc := config.TenantConfig{
		ID:           tenant,
		Name:         opts.name,
		BaseCurrency: base,
		Fiscal:       config.FiscalConfig{YearStart: opts.yearStart},
	}
	for _, p := range cal.Periods(tenant, opts.fiscalYear) {
		tc.Periods = append(tc.Periods, periodConfig(p))
	}
	cfg.Tenants = []config.TenantConfig{tc}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(configPath, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	// Write chart of accounts.
	chart := accounts.DefaultChart(opts.entityType)
	if err := writeChart(filepath.Join(dir, cfg.Store.ChartOfAccount), chart); err != nil {
		return fmt.Errorf("writing chart of accounts: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("exports/\n*.xlsx\n"), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "vouchers", ".gitkeep"), []byte{}, 0o644); err != nil {
		return fmt.Errorf("writing .gitkeep: %w", err)
	}

	if !opts.git {
		fmt.Fprintf(out, "Initialized ledger project at %s\n", dir)
		return nil
	}

	if err := gitops.Init(ctx, dir); err != nil {
		return err
	}
	hash, err := gitops.CommitAll(ctx, dir, "init: Initialize "+opts.name, gitAuthor(cfg))
	if err != nil {
		return fmt.Errorf("initial commit: %w", err)
	}

	fmt.Fprintf(out, "Initialized ledger project at %s (%s)\n", dir, hash)
	return nil
}

func gitAuthor(cfg *config.Config) gitops.Author {
	return gitops.Author{Name: cfg.Git.AuthorName, Email: cfg.Git.AuthorEmail}
}
