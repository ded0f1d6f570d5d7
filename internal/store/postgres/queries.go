package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

// queryer is satisfied by both the resolver and a transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) committed() reader { return reader{q: s.db} }

func (s *Store) GetAccount(ctx context.Context, tenantID string, id uuid.UUID) (model.Account, error) {
	return s.committed().GetAccount(ctx, tenantID, id)
}

func (s *Store) AccountByCode(ctx context.Context, tenantID, code string) (model.Account, error) {
	return s.committed().AccountByCode(ctx, tenantID, code)
}

func (s *Store) ListAccounts(ctx context.Context, tenantID string) ([]model.Account, error) {
	return s.committed().ListAccounts(ctx, tenantID)
}

func (s *Store) Children(ctx context.Context, tenantID string, parentID *uuid.UUID) ([]model.Account, error) {
	return s.committed().Children(ctx, tenantID, parentID)
}

func (s *Store) Descendants(ctx context.Context, tenantID, prefix string) ([]model.Account, error) {
	return s.committed().Descendants(ctx, tenantID, prefix)
}

func (s *Store) GetVoucher(ctx context.Context, tenantID string, id uuid.UUID) (model.Voucher, error) {
	return s.committed().GetVoucher(ctx, tenantID, id)
}

func (s *Store) VoucherByIdempotencyKey(ctx context.Context, tenantID, key string) (model.Voucher, error) {
	return s.committed().VoucherByIdempotencyKey(ctx, tenantID, key)
}

func (s *Store) VoucherByPostKey(ctx context.Context, tenantID, key string) (model.Voucher, error) {
	return s.committed().VoucherByPostKey(ctx, tenantID, key)
}

func (s *Store) PostedDeltaAfter(ctx context.Context, tenantID string, accountIDs []uuid.UUID, after time.Time) (decimal.Decimal, error) {
	return s.committed().PostedDeltaAfter(ctx, tenantID, accountIDs, after)
}

func (s *Store) LatestRate(ctx context.Context, from, to string, on time.Time) (model.ExchangeRate, error) {
	return s.committed().LatestRate(ctx, from, to, on)
}

func (s *Store) GetTaxCode(ctx context.Context, tenantID, id string) (model.TaxCode, error) {
	return s.committed().GetTaxCode(ctx, tenantID, id)
}

func (s *Store) PeriodsCovering(ctx context.Context, tenantID string, date time.Time) ([]model.Period, error) {
	return s.committed().PeriodsCovering(ctx, tenantID, date)
}

func (s *Store) ListPeriods(ctx context.Context, tenantID string) ([]model.Period, error) {
	return s.committed().ListPeriods(ctx, tenantID)
}

type reader struct {
	q queryer
}

const accountColumns = `id, tenant_id, code, name, type, classification, parent_id, tree_path, level,
	current_balance, active, require_cost_center, require_department, require_project, created_at, updated_at`

func scanAccount(row rowScanner) (model.Account, error) {
	var a model.Account
	var parent uuid.NullUUID
	err := row.Scan(&a.ID, &a.TenantID, &a.Code, &a.Name, &a.Type, &a.Classification, &parent, &a.TreePath, &a.Level,
		&a.CurrentBalance, &a.Active, &a.RequireCostCenter, &a.RequireDepartment, &a.RequireProject, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Account{}, mapError(err)
	}
	if parent.Valid {
		a.ParentID = &parent.UUID
	}
	return a, nil
}

func (r reader) queryAccounts(ctx context.Context, query string, args ...any) ([]model.Account, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, mapError(rows.Err())
}

func (r reader) GetAccount(ctx context.Context, tenantID string, id uuid.UUID) (model.Account, error) {
	return scanAccount(r.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

func (r reader) AccountByCode(ctx context.Context, tenantID, code string) (model.Account, error) {
	return scanAccount(r.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = $1 AND code = $2`, tenantID, code))
}

func (r reader) ListAccounts(ctx context.Context, tenantID string) ([]model.Account, error) {
	return r.queryAccounts(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = $1 ORDER BY code`, tenantID)
}

func (r reader) Children(ctx context.Context, tenantID string, parentID *uuid.UUID) ([]model.Account, error) {
	if parentID == nil {
		return r.queryAccounts(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = $1 AND parent_id IS NULL ORDER BY code`, tenantID)
	}
	return r.queryAccounts(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = $1 AND parent_id = $2 ORDER BY code`, tenantID, *parentID)
}

func (r reader) Descendants(ctx context.Context, tenantID, prefix string) ([]model.Account, error) {
	return r.queryAccounts(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = $1 AND tree_path LIKE $2 ESCAPE '\'
		ORDER BY level, code`, tenantID, likePrefix(prefix))
}

// likePrefix escapes LIKE wildcards in prefix and appends "%".
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

const voucherColumns = `id, tenant_id, type, number, date, currency, exchange_rate, status, description, adjusting,
	total_debit, total_credit, base_total_debit, base_total_credit, idempotency_key, post_key,
	reversal_of, reversed_by, resubmission_of, reject_reason, created_by, created_at, updated_at, posted_at`

func scanVoucher(row rowScanner) (model.Voucher, error) {
	var v model.Voucher
	var reversalOf, reversedBy, resubmissionOf uuid.NullUUID
	var postedAt sql.NullTime
	err := row.Scan(&v.ID, &v.TenantID, &v.Type, &v.Number, &v.Date, &v.Currency, &v.ExchangeRate, &v.Status,
		&v.Description, &v.Adjusting, &v.TotalDebit, &v.TotalCredit, &v.BaseTotalDebit, &v.BaseTotalCredit,
		&v.IdempotencyKey, &v.PostIdempotencyKey, &reversalOf, &reversedBy, &resubmissionOf, &v.RejectReason,
		&v.CreatedBy, &v.CreatedAt, &v.UpdatedAt, &postedAt)
	if err != nil {
		return model.Voucher{}, mapError(err)
	}
	v.Date = model.TruncateDate(v.Date)
	v.ReversalOf = uuidPtr(reversalOf)
	v.ReversedBy = uuidPtr(reversedBy)
	v.ResubmissionOf = uuidPtr(resubmissionOf)
	if postedAt.Valid {
		t := postedAt.Time.UTC()
		v.PostedAt = &t
	}
	return v, nil
}

func (r reader) loadVoucher(ctx context.Context, query string, args ...any) (model.Voucher, error) {
	v, err := scanVoucher(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return model.Voucher{}, err
	}
	if v.Lines, err = r.lines(ctx, v.ID); err != nil {
		return model.Voucher{}, err
	}
	return v, nil
}

func (r reader) lines(ctx context.Context, voucherID uuid.UUID) ([]model.Line, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT line_no, account_id, description, debit, credit, cost_center, department, project,
			tax_codes, tax_inclusive, tax_amount, base_debit, base_credit, delta
		FROM voucher_lines WHERE voucher_id = $1 ORDER BY line_no`, voucherID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.Line
	for rows.Next() {
		var l model.Line
		var taxCodes string
		if err := rows.Scan(&l.LineNo, &l.AccountID, &l.Description, &l.Debit, &l.Credit,
			&l.Dimensions.CostCenter, &l.Dimensions.Department, &l.Dimensions.Project,
			&taxCodes, &l.TaxInclusive, &l.TaxAmount, &l.BaseDebit, &l.BaseCredit, &l.Delta); err != nil {
			return nil, mapError(err)
		}
		l.TaxCodes = splitCodes(taxCodes)
		out = append(out, l)
	}
	return out, mapError(rows.Err())
}

func (r reader) GetVoucher(ctx context.Context, tenantID string, id uuid.UUID) (model.Voucher, error) {
	return r.loadVoucher(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE tenant_id = $1 AND id = $2`, tenantID, id)
}

func (r reader) VoucherByIdempotencyKey(ctx context.Context, tenantID, key string) (model.Voucher, error) {
	if key == "" {
		return model.Voucher{}, store.ErrNotFound
	}
	return r.loadVoucher(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE tenant_id = $1 AND idempotency_key = $2`, tenantID, key)
}

func (r reader) VoucherByPostKey(ctx context.Context, tenantID, key string) (model.Voucher, error) {
	if key == "" {
		return model.Voucher{}, store.ErrNotFound
	}
	return r.loadVoucher(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE tenant_id = $1 AND post_key = $2`, tenantID, key)
}

func (r reader) PostedDeltaAfter(ctx context.Context, tenantID string, accountIDs []uuid.UUID, after time.Time) (decimal.Decimal, error) {
	if len(accountIDs) == 0 {
		return decimal.Zero, nil
	}
	args := []any{tenantID, model.TruncateDate(after)}
	query := `
		SELECT COALESCE(SUM(l.delta), 0)
		FROM voucher_lines l JOIN vouchers v ON v.id = l.voucher_id
		WHERE v.tenant_id = $1 AND v.status IN ('posted', 'reversed') AND v.date > $2
			AND l.account_id IN (` + placeholders(len(args)+1, len(accountIDs)) + `)`
	for _, id := range accountIDs {
		args = append(args, id)
	}

	var total decimal.Decimal
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return decimal.Zero, mapError(err)
	}
	return total, nil
}

// placeholders returns "$start, $start+1, ..." for n parameters.
func placeholders(start, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ps, ", ")
}

func (r reader) LatestRate(ctx context.Context, from, to string, on time.Time) (model.ExchangeRate, error) {
	rate := model.ExchangeRate{From: from, To: to}
	err := r.q.QueryRowContext(ctx, `
		SELECT rate_date, rate FROM exchange_rates
		WHERE from_currency = $1 AND to_currency = $2 AND rate_date <= $3
		ORDER BY rate_date DESC LIMIT 1`, from, to, model.TruncateDate(on)).Scan(&rate.Date, &rate.Rate)
	if err != nil {
		return model.ExchangeRate{}, mapError(err)
	}
	rate.Date = model.TruncateDate(rate.Date)
	return rate, nil
}

func (r reader) GetTaxCode(ctx context.Context, tenantID, id string) (model.TaxCode, error) {
	c := model.TaxCode{TenantID: tenantID, ID: id}
	var from, to sql.NullTime
	err := r.q.QueryRowContext(ctx, `
		SELECT name, rate, compound, recoverable, effective_from, effective_to
		FROM tax_codes WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&c.Name, &c.Rate, &c.Compound, &c.Recoverable, &from, &to)
	if err != nil {
		return model.TaxCode{}, mapError(err)
	}
	if from.Valid {
		c.EffectiveFrom = model.TruncateDate(from.Time)
	}
	if to.Valid {
		t := model.TruncateDate(to.Time)
		c.EffectiveTo = &t
	}
	return c, nil
}

const periodColumns = `id, tenant_id, kind, code, start_date, end_date, status, locked`

func (r reader) queryPeriods(ctx context.Context, query string, args ...any) ([]model.Period, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []model.Period
	for rows.Next() {
		var p model.Period
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Kind, &p.Code, &p.Start, &p.End, &p.Status, &p.Locked); err != nil {
			return nil, mapError(err)
		}
		p.Start, p.End = model.TruncateDate(p.Start), model.TruncateDate(p.End)
		out = append(out, p)
	}
	return out, mapError(rows.Err())
}

func (r reader) PeriodsCovering(ctx context.Context, tenantID string, date time.Time) ([]model.Period, error) {
	return r.queryPeriods(ctx, `SELECT `+periodColumns+` FROM periods
		WHERE tenant_id = $1 AND start_date <= $2 AND end_date >= $2
		ORDER BY kind, start_date`, tenantID, model.TruncateDate(date))
}

func (r reader) ListPeriods(ctx context.Context, tenantID string) ([]model.Period, error) {
	return r.queryPeriods(ctx, `SELECT `+periodColumns+` FROM periods
		WHERE tenant_id = $1 ORDER BY kind, start_date`, tenantID)
}

type tx struct {
	reader
	now func() time.Time
}

var _ store.Tx = (*tx)(nil)

// LockAccounts locks rows one by one in the order given. Callers pass ids
// sorted so concurrent postings cannot deadlock.
func (t *tx) LockAccounts(ctx context.Context, tenantID string, ids []uuid.UUID) (map[uuid.UUID]model.Account, error) {
	out := make(map[uuid.UUID]model.Account, len(ids))
	for _, id := range ids {
		a, err := scanAccount(t.q.QueryRowContext(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id))
		if err != nil {
			return nil, fmt.Errorf("locking account %s: %w", id, err)
		}
		out[id] = a
	}
	return out, nil
}

func (t *tx) InsertAccount(ctx context.Context, a model.Account) error {
	_, err := t.q.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.TenantID, a.Code, a.Name, a.Type, a.Classification, nullUUID(a.ParentID), a.TreePath, a.Level,
		a.CurrentBalance, a.Active, a.RequireCostCenter, a.RequireDepartment, a.RequireProject, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting account %s: %w", a.Code, mapError(err))
	}
	return nil
}

func (t *tx) UpdateAccount(ctx context.Context, a model.Account) error {
	res, err := t.q.ExecContext(ctx, `UPDATE accounts SET
		code = $3, name = $4, type = $5, classification = $6, parent_id = $7, tree_path = $8, level = $9,
		current_balance = $10, active = $11, require_cost_center = $12, require_department = $13,
		require_project = $14, updated_at = $15
		WHERE tenant_id = $1 AND id = $2`,
		a.TenantID, a.ID, a.Code, a.Name, a.Type, a.Classification, nullUUID(a.ParentID), a.TreePath, a.Level,
		a.CurrentBalance, a.Active, a.RequireCostCenter, a.RequireDepartment, a.RequireProject, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating account %s: %w", a.Code, mapError(err))
	}
	return requireRow(res, "account", a.ID)
}

func (t *tx) LockVoucher(ctx context.Context, tenantID string, id uuid.UUID) (model.Voucher, error) {
	return t.loadVoucher(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id)
}

func (t *tx) InsertVoucher(ctx context.Context, v model.Voucher) error {
	_, err := t.q.ExecContext(ctx, `INSERT INTO vouchers (`+voucherColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24)`,
		v.ID, v.TenantID, v.Type, v.Number, model.TruncateDate(v.Date), v.Currency, v.ExchangeRate, v.Status,
		v.Description, v.Adjusting, v.TotalDebit, v.TotalCredit, v.BaseTotalDebit, v.BaseTotalCredit,
		v.IdempotencyKey, v.PostIdempotencyKey, nullUUID(v.ReversalOf), nullUUID(v.ReversedBy),
		nullUUID(v.ResubmissionOf), v.RejectReason, v.CreatedBy, v.CreatedAt, v.UpdatedAt, nullTime(v.PostedAt))
	if err != nil {
		return fmt.Errorf("inserting voucher %s: %w", v.ID, mapError(err))
	}
	return t.insertLines(ctx, v)
}

// UpdateVoucher rewrites the header and replaces the lines, which gain base
// amounts, tax and deltas on posting.
func (t *tx) UpdateVoucher(ctx context.Context, v model.Voucher) error {
	res, err := t.q.ExecContext(ctx, `UPDATE vouchers SET
		type = $3, number = $4, date = $5, currency = $6, exchange_rate = $7, status = $8, description = $9,
		adjusting = $10, total_debit = $11, total_credit = $12, base_total_debit = $13, base_total_credit = $14,
		idempotency_key = $15, post_key = $16, reversal_of = $17, reversed_by = $18, resubmission_of = $19,
		reject_reason = $20, created_by = $21, updated_at = $22, posted_at = $23
		WHERE tenant_id = $1 AND id = $2`,
		v.TenantID, v.ID, v.Type, v.Number, model.TruncateDate(v.Date), v.Currency, v.ExchangeRate, v.Status,
		v.Description, v.Adjusting, v.TotalDebit, v.TotalCredit, v.BaseTotalDebit, v.BaseTotalCredit,
		v.IdempotencyKey, v.PostIdempotencyKey, nullUUID(v.ReversalOf), nullUUID(v.ReversedBy),
		nullUUID(v.ResubmissionOf), v.RejectReason, v.CreatedBy, v.UpdatedAt, nullTime(v.PostedAt))
	if err != nil {
		return fmt.Errorf("updating voucher %s: %w", v.ID, mapError(err))
	}
	if err := requireRow(res, "voucher", v.ID); err != nil {
		return err
	}

	if _, err := t.q.ExecContext(ctx, `DELETE FROM voucher_lines WHERE voucher_id = $1`, v.ID); err != nil {
		return fmt.Errorf("clearing lines of voucher %s: %w", v.ID, mapError(err))
	}
	return t.insertLines(ctx, v)
}

func (t *tx) insertLines(ctx context.Context, v model.Voucher) error {
	for _, l := range v.Lines {
		_, err := t.q.ExecContext(ctx, `INSERT INTO voucher_lines (
			voucher_id, line_no, account_id, description, debit, credit, cost_center, department, project,
			tax_codes, tax_inclusive, tax_amount, base_debit, base_credit, delta)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			v.ID, l.LineNo, l.AccountID, l.Description, l.Debit, l.Credit,
			l.Dimensions.CostCenter, l.Dimensions.Department, l.Dimensions.Project,
			joinCodes(l.TaxCodes), l.TaxInclusive, l.TaxAmount, l.BaseDebit, l.BaseCredit, l.Delta)
		if err != nil {
			return fmt.Errorf("inserting line %d of voucher %s: %w", l.LineNo, v.ID, mapError(err))
		}
	}
	return nil
}

// LockCounter creates the row when missing, then locks it. Two callers
// racing on a new counter both end up waiting on the same row.
func (t *tx) LockCounter(ctx context.Context, init model.SequenceCounter) (model.SequenceCounter, error) {
	_, err := t.q.ExecContext(ctx, `INSERT INTO sequence_counters
		(tenant_id, document_type, marker, next_value, reset_policy, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, document_type, marker) DO NOTHING`,
		init.TenantID, init.DocumentType, init.Marker, init.NextValue, init.ResetPolicy, t.now().UTC())
	if err != nil {
		return model.SequenceCounter{}, fmt.Errorf("creating counter %s: %w", init.DocumentType, mapError(err))
	}

	c := model.SequenceCounter{TenantID: init.TenantID, DocumentType: init.DocumentType, Marker: init.Marker}
	err = t.q.QueryRowContext(ctx, `
		SELECT next_value, reset_policy, updated_at FROM sequence_counters
		WHERE tenant_id = $1 AND document_type = $2 AND marker = $3 FOR UPDATE`,
		init.TenantID, init.DocumentType, init.Marker).
		Scan(&c.NextValue, &c.ResetPolicy, &c.UpdatedAt)
	if err != nil {
		return model.SequenceCounter{}, fmt.Errorf("locking counter %s: %w", init.DocumentType, mapError(err))
	}
	return c, nil
}

func (t *tx) SaveCounter(ctx context.Context, c model.SequenceCounter) error {
	_, err := t.q.ExecContext(ctx, `UPDATE sequence_counters
		SET next_value = $4, reset_policy = $5, updated_at = $6
		WHERE tenant_id = $1 AND document_type = $2 AND marker = $3`,
		c.TenantID, c.DocumentType, c.Marker, c.NextValue, c.ResetPolicy, t.now().UTC())
	if err != nil {
		return fmt.Errorf("saving counter %s: %w", c.DocumentType, mapError(err))
	}
	return nil
}

func (t *tx) InsertRate(ctx context.Context, r model.ExchangeRate) error {
	_, err := t.q.ExecContext(ctx, `INSERT INTO exchange_rates (from_currency, to_currency, rate_date, rate)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (from_currency, to_currency, rate_date) DO UPDATE SET rate = EXCLUDED.rate`,
		r.From, r.To, model.TruncateDate(r.Date), r.Rate)
	if err != nil {
		return fmt.Errorf("inserting %s/%s rate: %w", r.From, r.To, mapError(err))
	}
	return nil
}

func (t *tx) InsertTaxCode(ctx context.Context, c model.TaxCode) error {
	var from sql.NullTime
	if !c.EffectiveFrom.IsZero() {
		from = sql.NullTime{Time: model.TruncateDate(c.EffectiveFrom), Valid: true}
	}
	_, err := t.q.ExecContext(ctx, `INSERT INTO tax_codes
		(tenant_id, id, name, rate, compound, recoverable, effective_from, effective_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = EXCLUDED.name, rate = EXCLUDED.rate, compound = EXCLUDED.compound,
			recoverable = EXCLUDED.recoverable, effective_from = EXCLUDED.effective_from,
			effective_to = EXCLUDED.effective_to`,
		c.TenantID, c.ID, c.Name, c.Rate, c.Compound, c.Recoverable, from, nullTime(c.EffectiveTo))
	if err != nil {
		return fmt.Errorf("inserting tax code %s: %w", c.ID, mapError(err))
	}
	return nil
}

func (t *tx) InsertPeriod(ctx context.Context, p model.Period) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := t.q.ExecContext(ctx, `INSERT INTO periods (`+periodColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.TenantID, p.Kind, p.Code, model.TruncateDate(p.Start), model.TruncateDate(p.End), p.Status, p.Locked)
	if err != nil {
		return fmt.Errorf("inserting period %s: %w", p.Code, mapError(err))
	}
	return nil
}

func (t *tx) UpdatePeriod(ctx context.Context, p model.Period) error {
	res, err := t.q.ExecContext(ctx, `UPDATE periods SET status = $3, locked = $4
		WHERE tenant_id = $1 AND id = $2`, p.TenantID, p.ID, p.Status, p.Locked)
	if err != nil {
		return fmt.Errorf("updating period %s: %w", p.Code, mapError(err))
	}
	return requireRow(res, "period", p.ID)
}

func requireRow(res sql.Result, what string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking %s update: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, store.ErrNotFound)
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Tax code ids are stored comma-joined in list order.
func joinCodes(codes []string) string {
	return strings.Join(codes, ",")
}

func splitCodes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
