package domain

import (
	"github.com/shopspring/decimal"
)

// Direction says which way money moved on a statement line.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// Confidence is the categorizer's self-assessed certainty in an assigned
// category. Manual is reserved for the post-review import path; the
// automated stages never set it.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceManual Confidence = "manual"
)

// Flag marks a transaction property the row validator wants a human to see.
// Flags annotate only; no stage deletes or merges flagged rows.
type Flag string

const (
	FlagNoDescription      Flag = "NO_DESCRIPTION"
	FlagGenericDescription Flag = "GENERIC_DESCRIPTION"
	FlagOnlyNumbers        Flag = "ONLY_NUMBERS"
	FlagAmbiguous          Flag = "AMBIGUOUS"
	FlagUnusualAmount      Flag = "UNUSUAL_AMOUNT"
	FlagDuplicateSuspected Flag = "DUPLICATE_SUSPECTED"
)

// FeeBreakdown itemizes charges attached to a transaction, distinguished
// from the base amount. Nil fields mean the fee was not present, not zero.
type FeeBreakdown struct {
	Tax        *decimal.Decimal `json:"tax,omitempty"`
	Service    *decimal.Decimal `json:"serviceCharge,omitempty"`
	Commission *decimal.Decimal `json:"commission,omitempty"`
	StampDuty  *decimal.Decimal `json:"stampDuty,omitempty"`
	Transfer   *decimal.Decimal `json:"transferFee,omitempty"`
	Processing *decimal.Decimal `json:"processingFee,omitempty"`
	Other      *decimal.Decimal `json:"other,omitempty"`
	Note       string           `json:"note,omitempty"`
}

// HasAny reports whether at least one fee field is set.
func (f *FeeBreakdown) HasAny() bool {
	if f == nil {
		return false
	}
	for _, v := range f.fields() {
		if v != nil {
			return true
		}
	}
	return false
}

// Sum adds every present fee field.
func (f *FeeBreakdown) Sum() decimal.Decimal {
	total := decimal.Zero
	if f == nil {
		return total
	}
	for _, v := range f.fields() {
		if v != nil {
			total = total.Add(*v)
		}
	}
	return total
}

func (f *FeeBreakdown) fields() []*decimal.Decimal {
	return []*decimal.Decimal{f.Tax, f.Service, f.Commission, f.StampDuty, f.Transfer, f.Processing, f.Other}
}

// ParsedTransaction is the unit of work flowing through segmentation,
// categorization and row validation. Stages copy rather than mutate:
// a transform returns a fresh slice.
type ParsedTransaction struct {
	Date         string           `json:"date"` // calendar date, YYYY-MM-DD
	Description  string           `json:"description"`
	OriginalDesc string           `json:"originalDesc,omitempty"`
	Amount       decimal.Decimal  `json:"amount"` // signed magnitude, always >= 0
	Direction    Direction        `json:"direction"`
	Category     *string          `json:"category"`
	Confidence   Confidence       `json:"confidence"`
	NeedsReview  bool             `json:"needsReview"`
	Flags        []Flag           `json:"flags,omitempty"`
	Fees         *FeeBreakdown    `json:"fees,omitempty"`
	Total        *decimal.Decimal `json:"total"` // amount + sum of fees; nil when no fees
}

// ReconcileTotal returns a copy with Total derived from Amount and Fees.
// Total is nil when there is no fee breakdown.
func (t ParsedTransaction) ReconcileTotal() ParsedTransaction {
	if t.Fees.HasAny() {
		total := t.Amount.Add(t.Fees.Sum())
		t.Total = &total
	} else {
		t.Total = nil
	}
	return t
}

// HasFlag reports whether the transaction carries the given flag.
func (t ParsedTransaction) HasFlag(f Flag) bool {
	for _, x := range t.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// SegmentResult is what the LLM segmenter produces from one statement:
// header metadata plus candidate transactions. Everything in it is
// treated as untrusted by downstream stages.
type SegmentResult struct {
	BankName      string              `json:"bankName"`
	AccountNumber string              `json:"accountNumber,omitempty"`
	Period        string              `json:"period,omitempty"`
	Transactions  []ParsedTransaction `json:"transactions"`
}

// ValidationSummary is a reduction over a finished batch; it is derived,
// never stored.
type ValidationSummary struct {
	Total           int `json:"total"`
	AutoCategorized int `json:"autoCategorized"`
	NeedsReview     int `json:"needsReview"`
	Flagged         int `json:"flagged"`
}
