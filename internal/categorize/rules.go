package categorize

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/finledger/finledger/internal/domain"
)

// Rule maps keywords in a transaction description to a category. Strong
// keywords are unambiguous on their own; weak keywords are suggestive and
// only yield medium confidence. An optional direction restricts the rule to
// debits or credits.
type Rule struct {
	Category  string           `yaml:"category"`
	Direction domain.Direction `yaml:"direction,omitempty"`
	Strong    []string         `yaml:"strong,omitempty"`
	Weak      []string         `yaml:"weak,omitempty"`
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads an ordered rule list from a YAML file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no rules", path)
	}
	return f.Rules, nil
}

// DefaultRules is the compiled-in rule set, tuned for the statement
// dialects the cleaner recognizes. Order matters: earlier rules win.
func DefaultRules() []Rule {
	return []Rule{
		{
			Category:  "salary",
			Direction: domain.DirectionCredit,
			Strong:    []string{"salary", "payroll", "wages"},
		},
		{
			Category: "rent",
			Strong:   []string{"rent payment", "house rent"},
			Weak:     []string{"rent"},
		},
		{
			Category: "transfers",
			Strong:   []string{"transfer to", "transfer from", "trf to", "trf from", "neft", "rtgs"},
			Weak:     []string{"transfer", "trf"},
		},
		{
			Category: "airtime",
			Strong:   []string{"airtime", "recharge", "top up", "topup"},
		},
		{
			Category: "bank_charges",
			Strong:   []string{"sms alert", "maintenance fee", "card fee", "account fee"},
			Weak:     []string{"charge", "levy"},
		},
		{
			Category: "groceries",
			Strong:   []string{"supermarket", "grocery", "grocer", "foodstuff"},
			Weak:     []string{"market"},
		},
		{
			Category: "dining",
			Strong:   []string{"restaurant", "cafe", "eatery", "pizza", "kfc"},
			Weak:     []string{"food"},
		},
		{
			Category: "transport",
			Strong:   []string{"uber", "bolt ride", "taxi", "fuel", "petrol", "filling station"},
			Weak:     []string{"transport"},
		},
		{
			Category: "utilities",
			Strong:   []string{"electricity", "water bill", "internet", "dstv", "prepaid meter"},
			Weak:     []string{"utility", "bill payment"},
		},
		{
			Category: "entertainment",
			Strong:   []string{"netflix", "spotify", "cinema", "showmax"},
		},
		{
			Category: "health",
			Strong:   []string{"pharmacy", "hospital", "clinic"},
		},
		{
			Category: "shopping",
			Strong:   []string{"amazon", "jumia", "boutique", "mall"},
			Weak:     []string{"shop", "store"},
		},
		{
			Category:  "business",
			Direction: domain.DirectionCredit,
			Weak:      []string{"invoice", "pos sales"},
		},
	}
}
