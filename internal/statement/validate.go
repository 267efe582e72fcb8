package statement

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNotAStatement is returned by the pipeline when the format guard
// rejects the extracted text.
var ErrNotAStatement = errors.New("statement: text does not look like a bank statement")

// Verdict is the outcome of the cheap format check that runs before any
// expensive downstream work.
type Verdict struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

var (
	accountNumberRe = regexp.MustCompile(`\b\d{8,16}\b|\*{2,}\d{3,4}`)
	dateTokenRe     = regexp.MustCompile(`\b(?:\d{2}/\d{2}(?:/\d{2,4})?|\d{2}-[A-Za-z]{3}-\d{4}|\d{4}-\d{2}-\d{2})\b`)

	statementKeywords = []string{
		"statement", "account", "balance", "opening", "closing",
		"transaction", "debit", "credit", "brought forward", "available",
	}
)

// minStatementScore is the floor under which text is rejected. The check
// is a guard, not a classifier: false positives are cheap (later stages
// simply find nothing), so the floor errs low.
const minStatementScore = 4

// ValidateStatement runs lightweight heuristics over raw text to decide
// whether it plausibly is a bank statement.
func ValidateStatement(text string) Verdict {
	if strings.TrimSpace(text) == "" {
		return Verdict{Valid: false, Reason: "text is empty"}
	}

	lower := strings.ToLower(text)

	score := 0
	for _, kw := range statementKeywords {
		if strings.Contains(lower, kw) {
			score++
		}
	}
	if accountNumberRe.MatchString(text) {
		score += 2
	}
	if len(dateTokenRe.FindAllStringIndex(text, 3)) >= 2 {
		score += 2
	}
	if len(amountRe.FindAllStringIndex(text, 3)) >= 2 {
		score += 2
	}

	if score < minStatementScore {
		return Verdict{Valid: false, Reason: "text does not look like a bank statement"}
	}
	return Verdict{Valid: true}
}
