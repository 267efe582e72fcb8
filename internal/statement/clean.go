// Package statement holds the deterministic text stages of the ingestion
// pipeline: the format guard and the normalizer that rebuilds logical
// transaction rows out of PDF-flattened text.
package statement

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/domain"
)

// CleanOptions configures a cleaning run.
type CleanOptions struct {
	// Bank forces a dialect; DialectUnknown means auto-detect.
	Bank domain.BankDialect
	// LookAheadRows is how many lines after a transaction row are scanned
	// for fee lines before the window closes.
	LookAheadRows int
	// PreserveOriginal keeps unrecognized (non-furniture) lines in the
	// output instead of dropping them.
	PreserveOriginal bool
	// Verbose enables per-run debug logging.
	Verbose bool
}

// Cleaner reconstructs logical transaction rows from raw statement text.
type Cleaner struct {
	opts CleanOptions
	log  zerolog.Logger
}

// NewCleaner creates a Cleaner with the given options.
func NewCleaner(opts CleanOptions, log zerolog.Logger) *Cleaner {
	if opts.LookAheadRows <= 0 {
		opts.LookAheadRows = 3
	}
	return &Cleaner{opts: opts, log: log}
}

// Row is one reconstructed logical transaction row: the physical line it
// started on plus any wrapped continuation text and any fee lines folded
// into it.
type Row struct {
	Date        string
	Description string
	Amount      string
	Fees        domain.FeeBreakdown
}

// feeMarker separates a rendered row from its folded fee clauses. Rendered
// output re-cleans to the same rows, which is what keeps Clean close to
// idempotent.
const feeMarker = " | fees: "

// Clean produces a fresh CleanedStatement from raw text. Internal faults
// are recovered and returned as an error so the caller can degrade to the
// raw text instead of losing the whole import.
func (c *Cleaner) Clean(raw domain.RawStatementText) (cleaned domain.CleanedStatement, err error) {
	defer func() {
		if r := recover(); r != nil {
			cleaned = domain.CleanedStatement{}
			err = fmt.Errorf("statement: clean: %v", r)
		}
	}()

	start := time.Now()

	id := c.opts.Bank
	if id == domain.DialectUnknown {
		id = DetectDialect(raw.Text)
	}
	d := dialectFor(id)

	res := scan(raw.Text, d, c.opts.LookAheadRows)

	var b strings.Builder
	if c.opts.PreserveOriginal {
		for _, line := range res.loose {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	for _, row := range res.rows {
		b.WriteString(renderRow(row))
		b.WriteString("\n")
	}

	stats := domain.CleanStats{
		TransactionCount: len(res.rows),
		FeeCount:         res.feeCount,
		Elapsed:          time.Since(start),
	}

	if c.opts.Verbose {
		c.log.Debug().
			Str("dialect", string(id)).
			Int("transactions", stats.TransactionCount).
			Int("fees", stats.FeeCount).
			Dur("elapsed", stats.Elapsed).
			Msg("statement cleaned")
	}

	return domain.CleanedStatement{Text: b.String(), Dialect: id, Stats: stats}, nil
}

// Reconstruct exposes the row reconstruction on its own, using the
// cleaner's configured (or detected) dialect.
func (c *Cleaner) Reconstruct(text string) []Row {
	id := c.opts.Bank
	if id == domain.DialectUnknown {
		id = DetectDialect(text)
	}
	return scan(text, dialectFor(id), c.opts.LookAheadRows).rows
}

type scanResult struct {
	rows     []Row
	loose    []string
	feeCount int
}

// scan walks the physical lines once, reconstructing logical rows.
// A continuation line is one that carries neither a leading date token
// nor an amount token; a fee line carries a fee keyword with an amount as
// its last token and is only honored inside the lookahead window.
func scan(text string, d dialect, lookAhead int) scanResult {
	var res scanResult
	var current *Row
	sinceStart := 0

	flush := func() {
		if current != nil {
			res.rows = append(res.rows, *current)
			current = nil
		}
	}

	for _, physical := range strings.Split(text, "\n") {
		line := strings.TrimSpace(physical)
		if line == "" || isFurniture(line) {
			continue
		}

		head, feeTail := splitFeeMarker(line)

		if row, ok := parseRowStart(head, d); ok {
			flush()
			current = &row
			sinceStart = 0
			if feeTail != "" {
				res.feeCount += foldFeeClauses(&current.Fees, feeTail)
			}
			continue
		}

		if current != nil {
			sinceStart++
			if sinceStart <= lookAhead {
				if assign, ok := classifyFeeLine(line); ok {
					assign(&current.Fees)
					res.feeCount++
					continue
				}
			}
			if isContinuation(line, d) {
				current.Description += " " + line
				continue
			}
		}

		res.loose = append(res.loose, line)
	}
	flush()

	return res
}

var furnitureRe = regexp.MustCompile(`(?i)^(?:page\s+\d+|continued|[-=*_]{3,})`)
var columnHeaderRe = regexp.MustCompile(`(?i)\bdate\b.*\b(?:description|narration|particulars)\b`)

func isFurniture(line string) bool {
	if len(line) < 3 {
		return true
	}
	return furnitureRe.MatchString(line) || columnHeaderRe.MatchString(line)
}

func isContinuation(line string, d dialect) bool {
	return !d.dateRe.MatchString(line) &&
		!genericDialect.dateRe.MatchString(line) &&
		!amountRe.MatchString(line)
}

var trailingDirRe = regexp.MustCompile(`\s+(?:DR|CR)\.?$`)

// parseRowStart recognizes a transaction-start line: a leading date token
// followed by free text and at least one amount token. When a running
// balance trails the amount, the second-to-last money token is the
// transaction amount.
func parseRowStart(line string, d dialect) (Row, bool) {
	date := d.dateRe.FindString(line)
	if date == "" {
		return Row{}, false
	}
	rest := strings.TrimSpace(line[len(date):])

	tokens := amountRe.FindAllStringIndex(rest, -1)
	if len(tokens) == 0 {
		return Row{}, false
	}

	amountIdx := len(tokens) - 1
	if len(tokens) >= 2 {
		amountIdx = len(tokens) - 2
	}
	amount := rest[tokens[amountIdx][0]:tokens[amountIdx][1]]

	desc := strings.TrimSpace(rest[:tokens[0][0]])
	desc = trailingDirRe.ReplaceAllString(desc, "")
	desc = collapseSpaces(desc)

	return Row{Date: date, Description: desc, Amount: amount}, true
}

// feeRule maps a fee keyword onto a FeeBreakdown field. Order matters:
// specific names must win over the generic catch-all.
type feeRule struct {
	re    *regexp.Regexp
	canon string
	slot  func(*domain.FeeBreakdown) **decimal.Decimal
}

var feeRules = []feeRule{
	{regexp.MustCompile(`(?i)\bstamp\s*duty\b`), "stamp duty", func(f *domain.FeeBreakdown) **decimal.Decimal { return &f.StampDuty }},
	{regexp.MustCompile(`(?i)\bservice\s*(?:charge|fee)\b`), "service charge", func(f *domain.FeeBreakdown) **decimal.Decimal { return &f.Service }},
	{regexp.MustCompile(`(?i)\bcommission\b`), "commission", func(f *domain.FeeBreakdown) **decimal.Decimal { return &f.Commission }},
	{regexp.MustCompile(`(?i)\btransfer\s*(?:fee|levy|charge)\b`), "transfer fee", func(f *domain.FeeBreakdown) **decimal.Decimal { return &f.Transfer }},
	{regexp.MustCompile(`(?i)\bprocessing\s*fee\b`), "processing fee", func(f *domain.FeeBreakdown) **decimal.Decimal { return &f.Processing }},
	{regexp.MustCompile(`(?i)\bvat\b|\bw\.?h\.?t\b|\btax\b|\bexcise\s*duty\b`), "tax", func(f *domain.FeeBreakdown) **decimal.Decimal { return &f.Tax }},
	{regexp.MustCompile(`(?i)\blevy\b|\bcharge\b|\bfee\b|\bduty\b`), "other charge", func(f *domain.FeeBreakdown) **decimal.Decimal { return &f.Other }},
}

var feeLineRe = regexp.MustCompile(`^(.*?)(\d{1,3}(?:,\d{3})*\.\d{2})\s*$`)

// classifyFeeLine recognizes a standalone fee line (keyword plus trailing
// amount) and returns a closure that folds it into a breakdown.
func classifyFeeLine(line string) (func(*domain.FeeBreakdown), bool) {
	m := feeLineRe.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	label, amountStr := m[1], m[2]
	amount, err := parseAmount(amountStr)
	if err != nil {
		return nil, false
	}
	for _, rule := range feeRules {
		if rule.re.MatchString(label) {
			slot := rule.slot
			return func(f *domain.FeeBreakdown) { addFee(slot(f), amount) }, true
		}
	}
	return nil, false
}

func addFee(dst **decimal.Decimal, v decimal.Decimal) {
	if *dst == nil {
		*dst = &v
		return
	}
	sum := (*dst).Add(v)
	*dst = &sum
}

func parseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
}

func splitFeeMarker(line string) (head, tail string) {
	if idx := strings.Index(line, feeMarker); idx != -1 {
		return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+len(feeMarker):])
	}
	return line, ""
}

// foldFeeClauses re-absorbs the fee clauses of an already-rendered row,
// so cleaning cleaned text does not change its meaning.
func foldFeeClauses(f *domain.FeeBreakdown, tail string) int {
	n := 0
	for _, clause := range strings.Split(tail, "; ") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		if assign, ok := classifyFeeLine(clause); ok {
			assign(f)
			n++
		}
	}
	return n
}

func renderRow(r Row) string {
	line := fmt.Sprintf("%s  %s  %s", r.Date, r.Description, r.Amount)
	clauses := renderFees(r.Fees)
	if len(clauses) > 0 {
		line += feeMarker + strings.Join(clauses, "; ")
	}
	return line
}

func renderFees(f domain.FeeBreakdown) []string {
	var out []string
	add := func(canon string, v *decimal.Decimal) {
		if v != nil {
			out = append(out, canon+" "+v.StringFixed(2))
		}
	}
	add("tax", f.Tax)
	add("service charge", f.Service)
	add("commission", f.Commission)
	add("stamp duty", f.StampDuty)
	add("transfer fee", f.Transfer)
	add("processing fee", f.Processing)
	add("other charge", f.Other)
	return out
}
