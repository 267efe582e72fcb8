package domain

import "time"

// BankDialect identifies a recognized bank statement layout. It is detected
// from structure, never supplied by the user.
type BankDialect string

const (
	DialectUnknown       BankDialect = "UNKNOWN"
	DialectFirstNational BankDialect = "FIRST_NATIONAL"
	DialectMeridian      BankDialect = "MERIDIAN"
	DialectUnionTrust    BankDialect = "UNION_TRUST"
)

// RawStatementText is the plain text pulled out of an uploaded PDF,
// optionally split per page. Immutable once produced.
type RawStatementText struct {
	Text  string
	Pages []string
}

// CleanStats records what a cleaning run saw.
type CleanStats struct {
	TransactionCount int           `json:"transactionCount"`
	FeeCount         int           `json:"feeCount"`
	Elapsed          time.Duration `json:"elapsed"`
}

// CleanedStatement is the normalizer's output: reconstructed text, the
// dialect that was applied, and run statistics. A cleaning run always
// produces a fresh value; nothing mutates it afterwards.
type CleanedStatement struct {
	Text    string      `json:"text"`
	Dialect BankDialect `json:"dialect"`
	Stats   CleanStats  `json:"stats"`
}
