package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/importer"
	"github.com/cleared-dev/ledger/internal/journal"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/voucher"
)

// voucherView is what the CLI prints for a voucher.
type voucherView struct {
	ID          uuid.UUID           `json:"id"`
	Number      string              `json:"number,omitempty"`
	Type        model.VoucherType   `json:"type"`
	Status      model.VoucherStatus `json:"status"`
	Date        string              `json:"date"`
	Currency    string              `json:"currency"`
	Rate        string              `json:"exchange_rate,omitempty"`
	TotalDebit  string              `json:"total_debit"`
	TotalCredit string              `json:"total_credit"`
	ReversalOf  *uuid.UUID          `json:"reversal_of,omitempty"`
	ReversedBy  *uuid.UUID          `json:"reversed_by,omitempty"`
}

func newVoucherView(v model.Voucher) voucherView {
	view := voucherView{
		ID:          v.ID,
		Number:      v.Number,
		Type:        v.Type,
		Status:      v.Status,
		Date:        v.Date.Format(dateLayout),
		Currency:    v.Currency,
		TotalDebit:  v.TotalDebit.StringFixed(2),
		TotalCredit: v.TotalCredit.StringFixed(2),
		ReversalOf:  v.ReversalOf,
		ReversedBy:  v.ReversedBy,
	}
	if !v.ExchangeRate.IsZero() {
		view.Rate = v.ExchangeRate.String()
	}
	return view
}

// checkReport is printed per voucher by "voucher check".
type checkReport struct {
	Source    string              `json:"source"`
	VoucherID *uuid.UUID          `json:"voucher_id,omitempty"`
	Status    model.VoucherStatus `json:"status,omitempty"`
	*apperr.Result
}

func newVoucherCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voucher",
		Short: "Validate, post and manage vouchers",
	}
	cmd.AddCommand(
		newVoucherCheckCommand(root),
		newVoucherPostCommand(root),
		newVoucherShowCommand(root),
		newVoucherReverseCommand(root),
		newVoucherRejectCommand(root),
		newVoucherResubmitCommand(root),
		newVoucherNextNumberCommand(root),
		newVoucherExportCommand(root),
	)
	return cmd
}

func newVoucherCheckCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [file...]",
		Short: "Save vouchers as drafts and report every failing rule",
		Long: `Save vouchers as drafts, validate them and print one JSON report per
voucher. Without arguments every file in the vouchers/ inbox is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, root, func(p *project) error {
				batches, err := p.readVouchers(args)
				if err != nil {
					return err
				}
				ctx := cmd.Context()
				enc := json.NewEncoder(cmd.OutOrStdout())
				total, failed := 0, 0
				for _, b := range batches {
					for _, doc := range b.docs {
						report, err := p.check(ctx, doc)
						if err != nil {
							return err
						}
						total++
						if !report.Valid {
							failed++
						}
						if err := enc.Encode(report); err != nil {
							return err
						}
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d vouchers failed validation", failed, total)
				}
				return nil
			})
		},
	}
}

// check validates one document. Shape errors are reported without saving.
func (p *project) check(ctx context.Context, doc importer.Document) (checkReport, error) {
	report := checkReport{Source: doc.Source, Result: apperr.NewResult()}

	sub, err := p.submission(ctx, doc)
	if err != nil {
		report.Add(err)
		return report, nil
	}
	if issues := sub.Check(); len(issues) > 0 {
		report.Add(issues...)
		return report, nil
	}

	saved, err := p.vouchers.Save(ctx, sub)
	if err != nil {
		report.Add(err)
		return report, nil
	}
	result, v, err := p.vouchers.Validate(ctx, p.tenant, saved.ID)
	if err != nil {
		return report, err
	}
	report.VoucherID = &v.ID
	report.Status = v.Status
	report.Result = result
	return report, nil
}

func newVoucherPostCommand(root *rootOptions) *cobra.Command {
	var postKey string

	cmd := &cobra.Command{
		Use:   "post [file...]",
		Short: "Save and post vouchers, stopping at the first failure",
		Long: `Save and post every voucher in the given files, or in the vouchers/
inbox when no file is given. Inbox files whose vouchers all posted are
moved to vouchers/processed/.

JSON files hold one submission or an array of them; lines may reference
accounts by account_code. CSV files hold the lines of one voucher and are
named <type>_<YYYY-MM-DD>[_<label>].csv.

A voucher with an idempotency_key is posted with the post key
"post:<idempotency_key>", so re-running the same file is safe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, root, func(p *project) error {
				batches, err := p.readVouchers(args)
				if err != nil {
					return err
				}
				if postKey != "" && countDocs(batches) != 1 {
					return fmt.Errorf("--post-key needs exactly one voucher, got %d", countDocs(batches))
				}
				ctx := cmd.Context()
				for _, b := range batches {
					for _, doc := range b.docs {
						posted, err := p.post(ctx, doc, postKey)
						if err != nil {
							return fmt.Errorf("%s: %w", doc.Source, err)
						}
						if err := printJSON(cmd.OutOrStdout(), newVoucherView(posted)); err != nil {
							return err
						}
					}
					if b.inbox {
						if err := importer.MarkProcessed(p.dir, b.file); err != nil {
							return err
						}
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&postKey, "post-key", "", "idempotency key for posting a single voucher")
	return cmd
}

func (p *project) post(ctx context.Context, doc importer.Document, postKey string) (model.Voucher, error) {
	sub, err := p.submission(ctx, doc)
	if err != nil {
		return model.Voucher{}, err
	}
	saved, err := p.vouchers.Save(ctx, sub)
	if err != nil {
		return model.Voucher{}, err
	}
	if postKey == "" && sub.IdempotencyKey != "" {
		postKey = "post:" + sub.IdempotencyKey
	}
	return p.vouchers.Post(ctx, p.tenant, saved.ID, postKey)
}

func newVoucherShowCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a voucher",
		Args:  cobra.ExactArgs(1),
		RunE: voucherAction(root, func(ctx context.Context, p *project, id uuid.UUID) (model.Voucher, error) {
			return p.vouchers.Get(ctx, p.tenant, id)
		}),
	}
}

func newVoucherReverseCommand(root *rootOptions) *cobra.Command {
	var postKey string
	cmd := &cobra.Command{
		Use:   "reverse <id>",
		Short: "Post a mirror voucher that cancels a posted one",
		Args:  cobra.ExactArgs(1),
		RunE: voucherAction(root, func(ctx context.Context, p *project, id uuid.UUID) (model.Voucher, error) {
			return p.vouchers.Reverse(ctx, p.tenant, id, postKey)
		}),
	}
	cmd.Flags().StringVar(&postKey, "post-key", "", "idempotency key for the reversal")
	return cmd
}

func newVoucherRejectCommand(root *rootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a draft or validated voucher",
		Args:  cobra.ExactArgs(1),
		RunE: voucherAction(root, func(ctx context.Context, p *project, id uuid.UUID) (model.Voucher, error) {
			return p.vouchers.Reject(ctx, p.tenant, id, reason)
		}),
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the voucher was rejected")
	return cmd
}

func newVoucherResubmitCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resubmit <id>",
		Short: "Copy a rejected voucher into a new draft",
		Args:  cobra.ExactArgs(1),
		RunE: voucherAction(root, func(ctx context.Context, p *project, id uuid.UUID) (model.Voucher, error) {
			return p.vouchers.Resubmit(ctx, p.tenant, id)
		}),
	}
}

func newVoucherNextNumberCommand(root *rootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "next-number <type>",
		Short: "Allocate the next document number outside a posting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf := time.Now().UTC()
			if date != "" {
				d, err := time.Parse(dateLayout, date)
				if err != nil {
					return fmt.Errorf("parsing --date: %w", err)
				}
				asOf = d
			}
			return withProject(cmd, root, func(p *project) error {
				number, err := p.vouchers.NextNumber(cmd.Context(), p.tenant, args[0], asOf)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), number)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "document date as YYYY-MM-DD (default today)")
	return cmd
}

func newVoucherExportCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <id> [file]",
		Short: "Write a voucher's lines as CSV",
		Long: `Write the lines of a voucher as CSV with account codes instead of ids.
The output is printed when no file is given.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid voucher id %q: %w", args[0], err)
			}
			return withProject(cmd, root, func(p *project) error {
				records, err := p.lineRecords(cmd.Context(), id)
				if err != nil {
					return err
				}
				if len(args) == 1 {
					return journal.WriteLines(cmd.OutOrStdout(), records)
				}
				f, err := os.Create(args[1])
				if err != nil {
					return fmt.Errorf("creating %s: %w", args[1], err)
				}
				if err := journal.WriteLines(f, records); err != nil {
					f.Close()
					return fmt.Errorf("writing %s: %w", args[1], err)
				}
				return f.Close()
			})
		},
	}
}

// lineRecords loads a voucher and pairs each line with its account code.
func (p *project) lineRecords(ctx context.Context, id uuid.UUID) ([]journal.LineRecord, error) {
	v, err := p.vouchers.Get(ctx, p.tenant, id)
	if err != nil {
		return nil, err
	}
	records := make([]journal.LineRecord, 0, len(v.Lines))
	for _, l := range v.Lines {
		acct, err := p.store.GetAccount(ctx, p.tenant, l.AccountID)
		if err != nil {
			return nil, fmt.Errorf("line %d account %s: %w", l.LineNo, l.AccountID, err)
		}
		records = append(records, journal.LineRecord{AccountCode: acct.Code, Line: l})
	}
	return records, nil
}

func voucherAction(root *rootOptions, fn func(ctx context.Context, p *project, id uuid.UUID) (model.Voucher, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid voucher id %q: %w", args[0], err)
		}
		return withProject(cmd, root, func(p *project) error {
			v, err := fn(cmd.Context(), p, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), newVoucherView(v))
		})
	}
}

// batch is the documents read from one file.
type batch struct {
	file  string
	inbox bool
	docs  []importer.Document
}

// readVouchers parses the given files, or the inbox when there are none.
func (p *project) readVouchers(paths []string) ([]batch, error) {
	reg := importer.DefaultRegistry()
	inbox := len(paths) == 0
	if inbox {
		files, err := reg.Scan(p.dir)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, errors.New("no voucher files given and the vouchers/ inbox is empty")
		}
		for _, f := range files {
			paths = append(paths, f.Path)
		}
	}

	batches := make([]batch, 0, len(paths))
	for _, path := range paths {
		docs, err := reg.ParseFile(path)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch{file: filepath.Base(path), inbox: inbox, docs: docs})
	}
	return batches, nil
}

func countDocs(batches []batch) int {
	n := 0
	for _, b := range batches {
		n += len(b.docs)
	}
	return n
}

// submission fills tenant and currency defaults and resolves account codes.
func (p *project) submission(ctx context.Context, doc importer.Document) (voucher.Submission, error) {
	sub := doc.Submission
	if sub.TenantID == "" {
		sub.TenantID = p.tenant
	}
	if sub.Currency == "" {
		sub.Currency = p.cfg.Tenant(sub.TenantID).BaseCurrency
	}
	sub.Lines = append([]voucher.LineInput(nil), doc.Submission.Lines...)
	for i, code := range doc.AccountCodes {
		if code == "" || i >= len(sub.Lines) || sub.Lines[i].AccountID != uuid.Nil {
			continue
		}
		a, err := p.accounts.GetByCode(ctx, sub.TenantID, code)
		if err != nil {
			return voucher.Submission{}, apperr.Wrap(apperr.CodeAccountNotFound, err,
				"account %s not found", code).WithField(fmt.Sprintf("lines[%d].account_code", i))
		}
		sub.Lines[i].AccountID = a.ID
	}
	return sub, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
