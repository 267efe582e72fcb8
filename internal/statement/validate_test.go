package statement

import (
	"strings"
	"testing"

	"github.com/finledger/finledger/internal/domain"
)

func TestValidateStatement(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		valid bool
	}{
		{
			name:  "empty text",
			text:  "",
			valid: false,
		},
		{
			name:  "whitespace only",
			text:  "   \n\t  \n",
			valid: false,
		},
		{
			name:  "prose is not a statement",
			text:  "Dear customer, thank you for writing to us about your experience.",
			valid: false,
		},
		{
			name:  "realistic statement text",
			text:  sampleStatement,
			valid: true,
		},
		{
			name: "statement without keywords still passes on structure",
			text: "Acct 00123456789\n01/02/2024 POS PURCHASE 120.00\n02/02/2024 ATM WDL 400.00\nclosing balance 3,480.00",
			// account number + dates + amounts + two keywords clears the floor
			valid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ValidateStatement(tt.text)
			if v.Valid != tt.valid {
				t.Errorf("ValidateStatement() valid = %v, want %v (reason %q)", v.Valid, tt.valid, v.Reason)
			}
			if !v.Valid && v.Reason == "" {
				t.Error("invalid verdict must carry a reason")
			}
		})
	}
}

func TestDetectDialect(t *testing.T) {
	tests := []struct {
		name string
		text string
		want domain.BankDialect
	}{
		{
			name: "first national header",
			text: "FIRST NATIONAL BANK\nDATE DESCRIPTION DEBIT CREDIT BALANCE\n01/02/2024 POS 10.00 1,000.00",
			want: domain.DialectFirstNational,
		},
		{
			name: "meridian header",
			text: "MERIDIAN BANK PLC\nVALUE DATE NARRATION\n02-Jan-2024 POS PURCHASE 500.00 DR 10,000.00",
			want: domain.DialectMeridian,
		},
		{
			name: "union trust header",
			text: "UNION TRUST\nTXN DATE PARTICULARS\n2024-01-02 CARD PAYMENT 45.00",
			want: domain.DialectUnionTrust,
		},
		{
			name: "row shapes alone decide when headers are missing",
			text: strings.Repeat("02-Jan-2024 POS PURCHASE 500.00 DR 10,000.00\n", 5),
			want: domain.DialectMeridian,
		},
		{
			name: "unrecognized layout stays unknown",
			text: "some text without any banking structure at all",
			want: domain.DialectUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectDialect(tt.text); got != tt.want {
				t.Errorf("DetectDialect() = %v, want %v", got, tt.want)
			}
		})
	}
}
