package statement

import (
	"regexp"
	"strings"

	"github.com/finledger/finledger/internal/domain"
)

// dialect describes the structural signature of one bank's statement
// layout: how its transaction rows start and which header phrases give
// it away.
type dialect struct {
	id      domain.BankDialect
	markers []string       // strong header phrases, uppercase
	dateRe  *regexp.Regexp // leading date token of a transaction row
}

var (
	// amountRe matches a money token anywhere in a line: 1,234.56
	amountRe = regexp.MustCompile(`\d{1,3}(?:,\d{3})*\.\d{2}`)

	dialectFirstNational = dialect{
		id:      domain.DialectFirstNational,
		markers: []string{"FIRST NATIONAL", "DATE DESCRIPTION DEBIT CREDIT"},
		dateRe:  regexp.MustCompile(`^\d{2}/\d{2}/\d{4}\b`),
	}
	dialectMeridian = dialect{
		id:      domain.DialectMeridian,
		markers: []string{"MERIDIAN", "VALUE DATE NARRATION"},
		dateRe:  regexp.MustCompile(`^\d{2}-[A-Za-z]{3}-\d{4}\b`),
	}
	dialectUnionTrust = dialect{
		id:      domain.DialectUnionTrust,
		markers: []string{"UNION TRUST", "TXN DATE PARTICULARS"},
		dateRe:  regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\b`),
	}

	// genericDialect accepts any supported date shape, including the
	// year-less MM/DD style some layouts use mid-statement.
	genericDialect = dialect{
		id:     domain.DialectUnknown,
		dateRe: regexp.MustCompile(`^(?:\d{2}/\d{2}(?:/\d{2,4})?|\d{2}-[A-Za-z]{3}-\d{4}|\d{4}-\d{2}-\d{2})\b`),
	}

	knownDialects = []dialect{dialectFirstNational, dialectMeridian, dialectUnionTrust}
)

// DetectDialect scores the text against each known layout and returns the
// best match, or DialectUnknown when nothing scores above the floor. The
// generic reconstruction rules then apply.
func DetectDialect(text string) domain.BankDialect {
	upper := strings.ToUpper(text)
	collapsed := collapseSpaces(upper)

	best := domain.DialectUnknown
	bestScore := 0
	for _, d := range knownDialects {
		score := 0
		for _, m := range d.markers {
			if strings.Contains(collapsed, m) {
				score += 3
			}
		}
		// Count lines that open with this dialect's date token.
		rows := 0
		for _, line := range strings.Split(text, "\n") {
			if d.dateRe.MatchString(strings.TrimSpace(line)) {
				rows++
			}
		}
		if rows > 10 {
			rows = 10
		}
		score += rows

		if score > bestScore {
			bestScore = score
			best = d.id
		}
	}

	// A couple of stray date-shaped lines is not a signature.
	if bestScore < 3 {
		return domain.DialectUnknown
	}
	return best
}

func dialectFor(id domain.BankDialect) dialect {
	for _, d := range knownDialects {
		if d.id == id {
			return d
		}
	}
	return genericDialect
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
