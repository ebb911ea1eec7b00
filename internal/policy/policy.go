// Package policy implements the financial-content policy classifier stage
// of the proxy pipeline (spec.md §4.5): it decides whether a request's
// extracted text concerns financial matters, combining a fast keyword
// dictionary with an external LLM call and an optional stricter
// second pass for borderline text.
package policy

import "context"

// Classifier decides whether text is financial in nature.
type Classifier struct {
	textClassifier TextClassifier
	strict         bool
}

// New builds a Classifier. textClassifier may be nil, in which case
// IsFinancial relies solely on the keyword dictionary.
func New(textClassifier TextClassifier, strict bool) *Classifier {
	return &Classifier{textClassifier: textClassifier, strict: strict}
}

// IsFinancial implements the four-step sequence from spec.md §4.5:
//  1. an unambiguous keyword match is immediately decisive;
//  2. otherwise the LLM is asked for a single FINANCIAL/NON_FINANCIAL token;
//  3. in strict mode, a borderline text (economic vocabulary but no
//     unambiguous term) needs a second, stricter pass to also say FINANCIAL;
//  4. any classifier error falls back to the keyword result.
func (c *Classifier) IsFinancial(ctx context.Context, text string) (bool, error) {
	if keywordMatch(text) {
		return true, nil
	}

	if c.textClassifier == nil {
		return false, nil
	}

	token, err := c.textClassifier.Classify(ctx, text, false)
	if err != nil {
		return false, nil
	}
	if token != tokenFinancial {
		return false, nil
	}

	if c.strict && isBorderline(text) {
		strictToken, err := c.textClassifier.Classify(ctx, text, true)
		if err != nil {
			return false, nil
		}
		return strictToken == tokenFinancial, nil
	}

	return true, nil
}
