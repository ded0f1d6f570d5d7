package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/cleared-dev/ledger/internal/accounts"
	"github.com/cleared-dev/ledger/internal/audit"
	"github.com/cleared-dev/ledger/internal/config"
	"github.com/cleared-dev/ledger/internal/currency"
	"github.com/cleared-dev/ledger/internal/events"
	"github.com/cleared-dev/ledger/internal/lock"
	"github.com/cleared-dev/ledger/internal/logging"
	"github.com/cleared-dev/ledger/internal/period"
	"github.com/cleared-dev/ledger/internal/store"
	"github.com/cleared-dev/ledger/internal/store/file"
	"github.com/cleared-dev/ledger/internal/store/memory"
	"github.com/cleared-dev/ledger/internal/store/postgres"
	"github.com/cleared-dev/ledger/internal/tax"
	"github.com/cleared-dev/ledger/internal/voucher"
)

const (
	configFile    = "ledger.yaml"
	defaultTenant = "default"
)

// project is an opened ledger directory with every service wired from its
// ledger.yaml.
type project struct {
	dir    string
	cfg    *config.Config
	tenant string
	logger *zap.Logger

	store    store.Store
	accounts *accounts.Manager
	periods  *period.Manager
	vouchers *voucher.Service

	closers []func() error
}

// openProject loads dir/ledger.yaml, connects the configured backends and
// seeds the selected tenant's chart, periods, tax codes and rates. Seeding
// skips anything the store already holds.
func openProject(ctx context.Context, dir, tenantID string) (_ *project, err error) {
	cfg, err := config.Load(filepath.Join(dir, configFile))
	if err != nil {
		return nil, fmt.Errorf("loading project at %s: %w", dir, err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	p := &project{dir: dir, cfg: cfg, tenant: resolveTenant(cfg, tenantID), logger: logger}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()

	if p.store, err = p.openStore(ctx); err != nil {
		return nil, err
	}
	locks, err := p.openLocks(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := p.openPublisher()
	if err != nil {
		return nil, err
	}

	p.accounts = accounts.NewManager(p.store, cfg)
	p.periods = period.NewManager(p.store)
	p.vouchers, err = voucher.NewService(p.store, locks, cfg,
		voucher.WithLogger(logger),
		voucher.WithPublisher(publisher),
		voucher.WithRecorder(audit.NewFileRecorder(dir)),
		voucher.WithRateSource(currency.NewBreakerSource(p.store, currency.DefaultBreakerConfig(), logger)),
		voucher.WithSequenceRetry(cfg.Locks.Retries, cfg.Locks.BackoffBase),
	)
	if err != nil {
		return nil, fmt.Errorf("creating voucher service: %w", err)
	}

	if err := p.seed(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func resolveTenant(cfg *config.Config, flag string) string {
	if flag != "" {
		return flag
	}
	if len(cfg.Tenants) > 0 {
		return cfg.Tenants[0].ID
	}
	return defaultTenant
}

func (p *project) openStore(ctx context.Context) (store.Store, error) {
	switch p.cfg.Store.Driver {
	case "memory":
		return memory.New(memory.WithLockTimeout(p.cfg.Locks.Timeout)), nil
	case "", "file":
		st, err := file.Open(filepath.Join(p.dir, file.DefaultPath), memory.WithLockTimeout(p.cfg.Locks.Timeout))
		if err != nil {
			return nil, fmt.Errorf("opening file store: %w", err)
		}
		return st, nil
	}
	pg, err := postgres.Open(ctx, p.cfg.Store,
		postgres.WithLogger(p.logger),
		postgres.WithLockTimeout(p.cfg.Locks.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("opening postgres store: %w", err)
	}
	p.closers = append(p.closers, pg.Close)
	return pg, nil
}

func (p *project) openLocks(ctx context.Context) (lock.Manager, error) {
	if !p.cfg.Redis.Enabled {
		return lock.NewLocal(p.cfg.Locks.Timeout), nil
	}
	client, err := lock.NewRedisClient(ctx, p.cfg.Redis)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, client.Close)
	return lock.NewRedis(client, lock.RedisOptions{Wait: p.cfg.Locks.Timeout}, p.logger), nil
}

func (p *project) openPublisher() (events.Publisher, error) {
	if !p.cfg.Events.Enabled {
		return events.Nop{}, nil
	}
	pub, err := events.DialAMQP(p.cfg.Events.URL, p.cfg.Events.Exchange, p.logger)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, pub.Close)
	return pub, nil
}

func (p *project) seed(ctx context.Context) error {
	tenant := p.cfg.Tenant(p.tenant)

	records, err := readChart(p.chartPath())
	if err != nil {
		return err
	}
	added, err := p.accounts.Import(ctx, p.tenant, records)
	if err != nil {
		return fmt.Errorf("loading chart of accounts: %w", err)
	}

	periods, err := tenant.PeriodModels()
	if err != nil {
		return err
	}
	if _, err := p.periods.Seed(ctx, p.tenant, periods); err != nil {
		return fmt.Errorf("seeding periods: %w", err)
	}

	codes, err := tenant.TaxCodeModels()
	if err != nil {
		return err
	}
	engine := tax.NewEngine()
	for _, c := range codes {
		if err := engine.Register(ctx, p.store, c); err != nil {
			return fmt.Errorf("registering tax code %s: %w", c.ID, err)
		}
	}

	rates, err := p.cfg.RateModels()
	if err != nil {
		return err
	}
	for _, r := range rates {
		if err := currency.RegisterRate(ctx, p.store, r); err != nil {
			return fmt.Errorf("registering rate %s/%s: %w", r.From, r.To, err)
		}
	}

	p.logger.Debug("project loaded",
		zap.String("tenant", p.tenant),
		zap.String("driver", p.cfg.Store.Driver),
		zap.Int("accounts_added", added),
		zap.Int("tax_codes", len(codes)),
		zap.Int("rates", len(rates)))
	return nil
}

// chartPath is the chart-of-accounts file of the selected tenant. A
// "{tenant}" placeholder in the configured path is replaced by its id.
func (p *project) chartPath() string {
	return filepath.Join(p.dir, strings.ReplaceAll(p.cfg.Store.ChartOfAccount, "{tenant}", p.tenant))
}

// saveChart writes the tenant's chart back to its file so the file always
// mirrors the store.
func (p *project) saveChart(ctx context.Context) error {
	records, err := p.accounts.Export(ctx, p.tenant)
	if err != nil {
		return err
	}
	return writeChart(p.chartPath(), records)
}

// Close releases backends in reverse order of opening.
func (p *project) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i]())
	}
	p.closers = nil
	_ = p.logger.Sync()
	return errors.Join(errs...)
}

// readChart reads a CSV or XLSX chart. A missing file is an empty chart.
func readChart(path string) ([]accounts.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening chart of accounts: %w", err)
	}
	defer f.Close()

	var records []accounts.Record
	if isXLSX(path) {
		records, err = accounts.ReadAccountsXLSX(f)
	} else {
		records, err = accounts.ReadAccounts(f)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return records, nil
}

func writeChart(path string, records []accounts.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating chart directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if isXLSX(path) {
		err = accounts.WriteAccountsXLSX(f, records)
	} else {
		err = accounts.WriteAccounts(f, records)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func isXLSX(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xlsx")
}
