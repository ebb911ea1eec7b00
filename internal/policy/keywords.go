package policy

import "strings"

// financialKeywords are unambiguous financial-service terms: any match is
// immediately decisive (spec.md §4.5 step 1), no LLM call needed.
var financialKeywords = []string{
	"bank account", "routing number", "account number", "wire transfer",
	"loan", "mortgage", "credit card", "credit score", "credit limit",
	"investment", "stock", "bond", "portfolio", "dividend",
	"insurance", "premium", "policy number",
	"cryptocurrency", "bitcoin", "ethereum", "crypto wallet",
	"tax return", "irs", "tax id",
	"payment", "invoice", "transaction", "withdraw", "deposit",
}

// economicContextWords are general economic vocabulary that, absent any
// unambiguous keyword, marks a text as "borderline" for strict mode
// (spec.md §4.5 step 3) — not decisive on its own.
var economicContextWords = []string{
	"money", "price", "cost", "budget", "income", "salary", "expense",
	"market", "economy", "fund", "asset", "debt", "interest rate",
}

func containsAny(lower string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// keywordMatch reports whether text contains an unambiguous financial term.
func keywordMatch(text string) bool {
	return containsAny(strings.ToLower(text), financialKeywords)
}

// isBorderline reports whether text carries general economic vocabulary but
// no unambiguous financial term.
func isBorderline(text string) bool {
	lower := strings.ToLower(text)
	return !containsAny(lower, financialKeywords) && containsAny(lower, economicContextWords)
}
