// Package relevance decides whether a question is about the Retailer App.
//
// The test is deliberately loose: a question is in scope when its lowercased
// text contains any domain term as a substring, so "form" also matches
// "information".
package relevance

import "strings"

// defaultTerms covers the app name and the features and actions the manual
// documents.
var defaultTerms = []string{
	"retailer",
	"banglalink",
	"app",
	"profile",
	"device",
	"registration",
	"feedback",
	"voice of retailer",
	"commission",
	"lifting",
	"dashboard",
	"login",
	"logout",
	"edit",
	"submit",
	"form",
	"operator",
	"category",
}

// Filter is an immutable domain-term set. The zero value matches nothing.
type Filter struct {
	terms []string
}

// New builds a Filter from terms. Terms are lowercased and trimmed; empty
// terms are dropped since they would match every question.
func New(terms ...string) *Filter {
	f := &Filter{terms: make([]string, 0, len(terms))}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			f.terms = append(f.terms, t)
		}
	}
	return f
}

// Default returns the Retailer App filter.
func Default() *Filter {
	return New(defaultTerms...)
}

// IsRelevant reports whether question contains any domain term.
func (f *Filter) IsRelevant(question string) bool {
	q := strings.ToLower(question)
	for _, t := range f.terms {
		if strings.Contains(q, t) {
			return true
		}
	}
	return false
}

// Terms returns a copy of the filter's terms.
func (f *Filter) Terms() []string {
	return append([]string(nil), f.terms...)
}
