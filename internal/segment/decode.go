package segment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/domain"
)

// decodeResult parses and validates the raw model response. Anything that
// does not match the expected schema is an ErrParsingFailed; nothing
// malformed leaks downstream.
func decodeResult(raw string, catalog domain.Catalog) (*domain.SegmentResult, error) {
	clean := cleanModelJSON(raw)

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, fmt.Errorf("%w: unmarshal JSON: %v", ErrParsingFailed, err)
	}

	result := &domain.SegmentResult{}

	if v, err := getOptionalString(parsed, "bank_name"); err == nil && v != nil {
		result.BankName = *v
	}
	if v, err := getOptionalString(parsed, "account_number"); err == nil && v != nil {
		result.AccountNumber = *v
	}
	if v, err := getOptionalString(parsed, "period"); err == nil && v != nil {
		result.Period = *v
	}

	txAny, ok := parsed["transactions"]
	if !ok {
		return nil, fmt.Errorf("%w: missing 'transactions' key", ErrParsingFailed)
	}
	txSlice, ok := txAny.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: 'transactions' is %T, want array", ErrParsingFailed, txAny)
	}
	if len(txSlice) == 0 {
		return nil, fmt.Errorf("%w in the statement text", ErrNoTransactions)
	}

	result.Transactions = make([]domain.ParsedTransaction, 0, len(txSlice))
	for i, item := range txSlice {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: transaction %d is %T, want object", ErrParsingFailed, i, item)
		}
		tx, err := decodeTransaction(obj, catalog)
		if err != nil {
			return nil, fmt.Errorf("%w: transaction %d: %v", ErrParsingFailed, i, err)
		}
		result.Transactions = append(result.Transactions, tx)
	}

	return result, nil
}

func decodeTransaction(obj map[string]interface{}, catalog domain.Catalog) (domain.ParsedTransaction, error) {
	dateStr, err := getString(obj, "date")
	if err != nil {
		return domain.ParsedTransaction{}, err
	}
	if _, err := time.Parse("2006-01-02", dateStr); err != nil {
		return domain.ParsedTransaction{}, fmt.Errorf("invalid date %q: %v", dateStr, err)
	}

	desc, err := getString(obj, "description")
	if err != nil {
		return domain.ParsedTransaction{}, err
	}

	amountF, err := getFloat(obj, "amount")
	if err != nil {
		return domain.ParsedTransaction{}, err
	}
	amount := decimal.NewFromFloat(amountF).Round(2)

	direction := domain.Direction("")
	if v, err := getOptionalString(obj, "direction"); err != nil {
		return domain.ParsedTransaction{}, err
	} else if v != nil {
		switch domain.Direction(strings.ToLower(*v)) {
		case domain.DirectionDebit:
			direction = domain.DirectionDebit
		case domain.DirectionCredit:
			direction = domain.DirectionCredit
		}
	}

	// The model is told amounts are non-negative magnitudes; if it signs
	// one anyway, recover the convention instead of failing the batch.
	if amount.IsNegative() {
		amount = amount.Abs()
		if direction == "" {
			direction = domain.DirectionDebit
		}
	}

	var category *string
	if v, err := getOptionalString(obj, "category"); err != nil {
		return domain.ParsedTransaction{}, err
	} else if v != nil && catalog.Contains(*v) {
		c := strings.ToLower(*v)
		category = &c
	}

	fees, err := decodeFees(obj)
	if err != nil {
		return domain.ParsedTransaction{}, err
	}

	tx := domain.ParsedTransaction{
		Date:         dateStr,
		Description:  desc,
		OriginalDesc: desc,
		Amount:       amount,
		Direction:    direction,
		Category:     category,
		Confidence:   domain.ConfidenceLow,
		Fees:         fees,
	}
	return tx.ReconcileTotal(), nil
}

var feeFieldNames = map[string]func(*domain.FeeBreakdown) **decimal.Decimal{
	"tax":            func(f *domain.FeeBreakdown) **decimal.Decimal { return &f.Tax },
	"service_charge": func(f *domain.FeeBreakdown) **decimal.Decimal { return &f.Service },
	"commission":     func(f *domain.FeeBreakdown) **decimal.Decimal { return &f.Commission },
	"stamp_duty":     func(f *domain.FeeBreakdown) **decimal.Decimal { return &f.StampDuty },
	"transfer_fee":   func(f *domain.FeeBreakdown) **decimal.Decimal { return &f.Transfer },
	"processing_fee": func(f *domain.FeeBreakdown) **decimal.Decimal { return &f.Processing },
	"other":          func(f *domain.FeeBreakdown) **decimal.Decimal { return &f.Other },
}

func decodeFees(obj map[string]interface{}) (*domain.FeeBreakdown, error) {
	raw, ok := obj["fees"]
	if !ok || raw == nil {
		return nil, nil
	}
	feeObj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("field \"fees\" has type %T, want object or null", raw)
	}

	var fees domain.FeeBreakdown
	for name, slot := range feeFieldNames {
		v, err := getOptionalFloat(feeObj, name)
		if err != nil {
			return nil, err
		}
		if v != nil {
			d := decimal.NewFromFloat(*v).Round(2)
			*slot(&fees) = &d
		}
	}
	if note, err := getOptionalString(feeObj, "note"); err == nil && note != nil {
		fees.Note = *note
	}

	if !fees.HasAny() && fees.Note == "" {
		return nil, nil
	}
	return &fees, nil
}

//
// Typed field getters: the model response is a generic map until proven
// otherwise.
//

func getString(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("required field %q is empty", key)
	}
	return s, nil
}

func getOptionalString(m map[string]interface{}, key string) (*string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("field %q has type %T, want string or null", key, v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

func getFloat(m map[string]interface{}, key string) (float64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("missing required field %q", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("field %q has type %T, want number", key, v)
	}
	return f, nil
}

func getOptionalFloat(m map[string]interface{}, key string) (*float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil, fmt.Errorf("field %q has type %T, want number or null", key, v)
	}
	return &f, nil
}

// cleanModelJSON strips Markdown fences and surrounding junk when the
// model ignores the raw-JSON instruction.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only the outermost object if junk still surrounds it.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
