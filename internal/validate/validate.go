// Package validate turns RawRecords into typed Transactions or Rejections.
// Every rejected row carries exactly one reason; the first failing check
// wins, in this order: malformed_row, invalid_field (transaction id),
// missing_amount, invalid_date, invalid_age, invalid_field (remaining
// fields).
package validate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"txetl/internal/model"
	"txetl/internal/normalize"
)

// DefaultLayouts are tried in order when Config.Layouts is empty.
var DefaultLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
	"02.01.2006",
}

// Config tunes the validator.
type Config struct {
	// Layouts are time layouts tried in order. Values are interpreted in UTC
	// unless the layout carries a zone.
	Layouts []string
	// Min and Max bound accepted timestamps as [Min, Max). Zero means
	// unbounded on that side.
	Min, Max time.Time
	// Truthy and Falsy replace the built-in referral vocabulary when set.
	Truthy, Falsy []string
}

// Validator is safe for concurrent use.
type Validator struct {
	layouts  []string
	czFast   bool
	min, max time.Time
	truthy   map[string]struct{}
	falsy    map[string]struct{}
}

// New builds a Validator from cfg.
func New(cfg Config) *Validator {
	layouts := cfg.Layouts
	if len(layouts) == 0 {
		layouts = DefaultLayouts
	}
	czFast := false
	for _, l := range layouts {
		czFast = czFast || l == "02.01.2006"
	}
	return &Validator{
		layouts: layouts,
		czFast:  czFast,
		min:     cfg.Min,
		max:     cfg.Max,
		truthy:  lowerSet(cfg.Truthy),
		falsy:   lowerSet(cfg.Falsy),
	}
}

func reject(line int, reason model.Reason, format string, args ...any) *model.Rejection {
	return &model.Rejection{Line: line, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Validate returns a cleaned Transaction, or a Rejection when raw fails a
// check.
func (v *Validator) Validate(raw model.RawRecord) (model.Transaction, *model.Rejection) {
	line := raw.Line
	if raw.Malformed || len(raw.Fields) != model.NumColumns {
		detail := fmt.Sprintf("%d fields", len(raw.Fields))
		if raw.Cause != nil {
			detail = raw.Cause.Error()
		}
		return model.Transaction{}, reject(line, model.ReasonMalformedRow, "%s", detail)
	}

	idText := strings.TrimSpace(raw.Field(model.ColTransactionID))
	id, ok := toIntFast(idText)
	if !ok || id <= 0 {
		return model.Transaction{}, reject(line, model.ReasonInvalidField, "transaction_id %q", idText)
	}

	amount, err := ParseAmount(raw.Field(model.ColAmount))
	if err != nil {
		return model.Transaction{}, reject(line, model.ReasonMissingAmount, "%v", err)
	}

	at, err := v.ParseTime(raw.Field(model.ColTimestamp))
	if err != nil {
		return model.Transaction{}, reject(line, model.ReasonInvalidDate, "%v", err)
	}

	ageText := strings.TrimSpace(raw.Field(model.ColAge))
	age, ok := toIntFast(ageText)
	if !ok || age <= 0 || age >= 120 {
		return model.Transaction{}, reject(line, model.ReasonInvalidAge, "age %q", ageText)
	}

	marital, ok := ParseMarital(raw.Field(model.ColMaritalStatus))
	if !ok {
		return model.Transaction{}, reject(line, model.ReasonInvalidField, "marital_status %q", raw.Field(model.ColMaritalStatus))
	}

	referral, ok := v.parseReferral(raw.Field(model.ColReferral))
	if !ok {
		return model.Transaction{}, reject(line, model.ReasonInvalidField, "referral %q", raw.Field(model.ColReferral))
	}

	tx := model.Transaction{
		Line:       line,
		ID:         id,
		OccurredAt: at,
		Customer: model.ProfileKey{
			Gender:  ParseGender(raw.Field(model.ColGender)),
			Age:     int(age),
			Marital: marital,
		},
		Referral: referral,
		Amount:   amount,
	}

	for _, f := range []struct {
		col int
		dst *string
	}{
		{model.ColRegion, &tx.Region},
		{model.ColTier, &tx.Tier},
		{model.ColEmployment, &tx.Employment},
		{model.ColPaymentMethod, &tx.PaymentMethod},
	} {
		s := raw.Field(f.col)
		if normalize.IsMissing(s) {
			return model.Transaction{}, reject(line, model.ReasonInvalidField, "%s is empty", model.Columns[f.col])
		}
		*f.dst = normalize.Canonical(s)
	}
	return tx, nil
}

// ParseAmount parses a non-negative fixed-point amount rounded to cents.
// Placeholder tokens such as "Missing" or "NaN" are errors, as are amounts
// above model.MaxAmount.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if normalize.IsMissing(s) {
		return decimal.Zero, fmt.Errorf("amount missing (%q)", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: not a number", s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %q: negative", s)
	}
	d = d.Round(model.AmountScale)
	if d.GreaterThan(model.MaxAmount) {
		return decimal.Zero, fmt.Errorf("amount %q: exceeds %s", s, model.MaxAmount)
	}
	return d, nil
}

// ParseTime parses s with the first matching layout and checks the range.
func (v *Validator) ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if normalize.IsMissing(s) {
		return time.Time{}, fmt.Errorf("timestamp missing")
	}
	var (
		t  time.Time
		ok bool
	)
	if v.czFast {
		t, ok = parseCZDate(s)
	}
	if !ok {
		for _, layout := range v.layouts {
			if p, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				t, ok = p.UTC(), true
				break
			}
		}
	}
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp %q: no layout matched", s)
	}
	if !v.min.IsZero() && t.Before(v.min) {
		return time.Time{}, fmt.Errorf("timestamp %s before %s", t.Format(time.RFC3339), v.min.Format(time.DateOnly))
	}
	if !v.max.IsZero() && !t.Before(v.max) {
		return time.Time{}, fmt.Errorf("timestamp %s not before %s", t.Format(time.RFC3339), v.max.Format(time.DateOnly))
	}
	return t, nil
}

// ParseGender maps spelling variants to a Gender. Absent or unrecognized
// values become GenderUnknown; gender never causes a rejection.
func ParseGender(s string) model.Gender {
	switch normalize.Canonical(s) {
	case "male", "m", "man":
		return model.GenderMale
	case "female", "f", "woman":
		return model.GenderFemale
	}
	return model.GenderUnknown
}

// ParseMarital maps spelling variants to a MaritalStatus.
func ParseMarital(s string) (model.MaritalStatus, bool) {
	switch normalize.Canonical(s) {
	case "single", "s", "unmarried", "0":
		return model.MaritalSingle, true
	case "married", "m", "1":
		return model.MaritalMarried, true
	}
	return "", false
}

func (v *Validator) parseReferral(s string) (bool, bool) {
	return toBoolFast(strings.TrimSpace(s), len(v.truthy) > 0 || len(v.falsy) > 0, v.truthy, v.falsy)
}

// Loop validates every record from in, forwards accepted transactions to
// out and reports rejections through onReject.
//
// Loop drains in completely even after ctx is canceled so the upstream
// parser never blocks on a full channel; once canceled it stops forwarding.
// The caller closes out after Loop returns.
func (v *Validator) Loop(
	ctx context.Context,
	in <-chan model.RawRecord,
	out chan<- model.Transaction,
	onReject func(model.Rejection),
) {
	for raw := range in {
		tx, rej := v.Validate(raw)
		if rej != nil {
			if onReject != nil {
				onReject(*rej)
			}
			continue
		}
		if ctx.Err() != nil {
			continue
		}
		select {
		case out <- tx:
		case <-ctx.Done():
		}
	}
}
