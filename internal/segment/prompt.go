package segment

import (
	"strings"

	"github.com/finledger/finledger/internal/domain"
)

// buildPrompt assembles the instruction block, the rendered category
// catalog and the strict-output rules into one prompt.
func buildPrompt(text string, catalog domain.Catalog) string {
	basePrompt :=
		"You are a financial statement parser for bank statement text extracted from PDFs.\n\n" +
			"Task:\n" +
			"- Identify ALL transactions in the statement text below.\n" +
			"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
			"- Output a single JSON object.\n\n" +
			"The object must have these fields:\n" +
			"- \"bank_name\": string or null\n" +
			"- \"account_number\": string or null\n" +
			"- \"period\": string or null (e.g. \"2024-01-01 to 2024-01-31\")\n" +
			"- \"transactions\": array of objects\n\n" +
			"Each transaction object must have these fields:\n" +
			"- \"date\": string, ISO format \"YYYY-MM-DD\"\n" +
			"- \"description\": string\n" +
			"- \"amount\": number, ALWAYS non-negative (direction is carried separately)\n" +
			"- \"direction\": \"debit\" for money out, \"credit\" for money in\n" +
			"- \"category\": string (one of the predefined category values) or null\n" +
			"- \"fees\": object or null, with optional numeric fields\n" +
			"  \"tax\", \"service_charge\", \"commission\", \"stamp_duty\",\n" +
			"  \"transfer_fee\", \"processing_fee\", \"other\" and an optional\n" +
			"  string field \"note\"\n\n"

	rulesPrompt :=
		"Rules:\n" +
			"- A line of the form \"... | fees: service charge 50.00\" means those\n" +
			"  fees belong to that transaction; put them in its \"fees\" object.\n" +
			"- Never invent transactions for fee lines, balances or subtotals.\n" +
			"- If a value cannot be determined, use null.\n" +
			"- Return ONLY valid raw JSON.\n" +
			"- Do NOT wrap the response in code fences.\n" +
			"- Do NOT use ```json or any Markdown.\n" +
			"- Output must begin with \"{\" and end with \"}\".\n\n"

	return basePrompt + renderCatalog(catalog) + "\n" + rulesPrompt + "Statement text:\n\n" + text
}

// renderCatalog formats the active categories for the model, constraining
// what it may output.
func renderCatalog(catalog domain.Catalog) string {
	var b strings.Builder
	b.WriteString("Use ONLY the following category values:\n\n")
	for _, cat := range catalog.Active() {
		b.WriteString("- \"" + cat.Value + "\" (" + cat.Name + ", " + cat.Type + ")\n")
	}
	b.WriteString("\nIf none fits, use null; a deterministic pass assigns the final category.\n")
	return b.String()
}
