package voucher

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/currency"
	"github.com/cleared-dev/ledger/internal/model"
)

// Submission is the inbound voucher payload.
type Submission struct {
	TenantID       string      `json:"tenant_id" validate:"required,max=64"`
	Type           string      `json:"type" validate:"required,oneof=journal invoice payment generic"`
	Date           string      `json:"date" validate:"required,datetime=2006-01-02"`
	Currency       string      `json:"currency" validate:"required,len=3,alpha"`
	ExchangeRate   string      `json:"exchange_rate,omitempty" validate:"omitempty,positive_decimal"`
	Description    string      `json:"description,omitempty" validate:"max=500"`
	Adjusting      bool        `json:"adjusting,omitempty"`
	CreatedBy      string      `json:"created_by,omitempty" validate:"max=128"`
	IdempotencyKey string      `json:"idempotency_key,omitempty" validate:"max=128"`
	Lines          []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// LineInput is one submitted line. Amounts are decimal strings; a missing
// side is zero.
type LineInput struct {
	AccountID    uuid.UUID        `json:"account_id" validate:"required"`
	Description  string           `json:"description,omitempty" validate:"max=500"`
	Debit        string           `json:"debit,omitempty" validate:"omitempty,decimal"`
	Credit       string           `json:"credit,omitempty" validate:"omitempty,decimal"`
	Dimensions   model.Dimensions `json:"dimensions,omitempty"`
	TaxCodes     []string         `json:"tax_codes,omitempty" validate:"dive,required"`
	TaxInclusive bool             `json:"tax_inclusive,omitempty"`
	TaxAmount    string           `json:"tax_amount,omitempty" validate:"omitempty,decimal"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

func initValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// A nil uuid counts as missing.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		u, ok := field.Interface().(uuid.UUID)
		if !ok || u == uuid.Nil {
			return ""
		}
		return u.String()
	}, uuid.UUID{})

	if err := v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
		_, err := decimal.NewFromString(fl.Field().String())
		return err == nil
	}); err != nil {
		return nil, fmt.Errorf("registering decimal validation: %w", err)
	}
	if err := v.RegisterValidation("positive_decimal", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.IsPositive()
	}); err != nil {
		return nil, fmt.Errorf("registering positive_decimal validation: %w", err)
	}
	return v, nil
}

func getValidator() (*validator.Validate, error) {
	validateOnce.Do(func() {
		validate, errValidate = initValidator()
	})
	return validate, errValidate
}

// Check validates the payload shape and returns every failing field.
func (s Submission) Check() []error {
	v, err := getValidator()
	if err != nil {
		return []error{err}
	}
	err = v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []error{apperr.Wrap(apperr.CodeInvalidPayload, err, "invalid submission")}
	}
	out := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, fieldError(fe))
	}
	return out
}

// fieldError turns "Submission.lines[0].account_id" into an INVALID_PAYLOAD
// error on field "lines[0].account_id".
func fieldError(fe validator.FieldError) error {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}

	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "oneof":
		msg = fmt.Sprintf("must be one of [%s]", fe.Param())
	case "datetime":
		msg = fmt.Sprintf("must be a date formatted %s", fe.Param())
	case "len":
		msg = fmt.Sprintf("must be %s characters", fe.Param())
	case "max":
		msg = fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		msg = fmt.Sprintf("must have at least %s entries", fe.Param())
	case "decimal":
		msg = "must be a decimal number"
	case "positive_decimal":
		msg = "must be a positive decimal number"
	default:
		msg = fmt.Sprintf("failed %s check", fe.Tag())
	}
	return apperr.New(apperr.CodeInvalidPayload, "%s %s", field, msg).WithField(field)
}

// Voucher validates the submission and converts it to a draft voucher.
// Lines are numbered from 1 in submission order.
func (s Submission) Voucher() (model.Voucher, error) {
	if errs := s.Check(); len(errs) > 0 {
		return model.Voucher{}, errs[0]
	}

	date, err := time.Parse(time.DateOnly, s.Date)
	if err != nil {
		return model.Voucher{}, apperr.Wrap(apperr.CodeInvalidPayload, err, "parsing date").WithField("date")
	}
	cur, err := currency.NormalizeCode(s.Currency)
	if err != nil {
		return model.Voucher{}, err
	}

	v := model.Voucher{
		TenantID:       s.TenantID,
		Type:           model.VoucherType(s.Type),
		Date:           date,
		Currency:       cur,
		ExchangeRate:   parseDecimal(s.ExchangeRate),
		Status:         model.StatusDraft,
		Description:    s.Description,
		Adjusting:      s.Adjusting,
		CreatedBy:      s.CreatedBy,
		IdempotencyKey: s.IdempotencyKey,
		Lines:          make([]model.Line, 0, len(s.Lines)),
	}
	for i, in := range s.Lines {
		v.Lines = append(v.Lines, model.Line{
			LineNo:       i + 1,
			AccountID:    in.AccountID,
			Description:  in.Description,
			Debit:        parseDecimal(in.Debit),
			Credit:       parseDecimal(in.Credit),
			Dimensions:   in.Dimensions,
			TaxCodes:     append([]string(nil), in.TaxCodes...),
			TaxInclusive: in.TaxInclusive,
			TaxAmount:    parseDecimal(in.TaxAmount),
		})
	}
	return v, nil
}

// parseDecimal parses a string that already passed validation.
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	return decimal.RequireFromString(s)
}
