// Package search filters the messages of one folder with a small query
// grammar:
//
//	from:<val>         sender contains val
//	to:<val>           recipient contains val
//	subject:<val>      subject contains val
//	attachments:[val]  has attachments, optionally one whose filename contains val
//	anything else      sender, recipient, subject or either body contains the query
//
// Exactly one operator applies per query. Matching is case-insensitive.
package search

import (
	"strings"

	"golang.org/x/text/cases"

	"github.io/infrasutra/mailshelf/internal/store"
)

type Operator int

const (
	FreeText Operator = iota
	From
	To
	Subject
	Attachments
)

func (o Operator) String() string {
	switch o {
	case From:
		return "from"
	case To:
		return "to"
	case Subject:
		return "subject"
	case Attachments:
		return "attachments"
	default:
		return "text"
	}
}

var prefixes = []struct {
	prefix string
	op     Operator
}{
	{"from:", From},
	{"to:", To},
	{"subject:", Subject},
	{"attachments:", Attachments},
}

// Query is a parsed search query. Value is already case-folded.
type Query struct {
	Op    Operator
	Value string
}

// Empty reports whether the query matches everything.
func (q Query) Empty() bool {
	return q.Op == FreeText && q.Value == ""
}

// Parse tokenizes a raw query. Surrounding whitespace is ignored, both on the
// whole query and on an operator's value.
func Parse(raw string) Query {
	folded := fold(strings.TrimSpace(raw))
	for _, p := range prefixes {
		if value, ok := strings.CutPrefix(folded, p.prefix); ok {
			return Query{Op: p.op, Value: strings.TrimSpace(value)}
		}
	}
	return Query{Op: FreeText, Value: folded}
}

// Match reports whether m satisfies q.
func (q Query) Match(m store.Message) bool {
	switch q.Op {
	case From:
		return contains(m.From, q.Value)
	case To:
		return contains(m.To, q.Value)
	case Subject:
		return contains(m.Subject, q.Value)
	case Attachments:
		if len(m.Attachments) == 0 {
			return false
		}
		if q.Value == "" {
			return true
		}
		for _, a := range m.Attachments {
			if contains(a.FileName, q.Value) {
				return true
			}
		}
		return false
	case FreeText:
		return contains(m.From, q.Value) ||
			contains(m.To, q.Value) ||
			contains(m.Subject, q.Value) ||
			contains(m.TextBody, q.Value) ||
			contains(m.HTMLBody, q.Value)
	default:
		panic("search: unknown operator")
	}
}

// Filter returns the messages matching raw, preserving their order. An empty
// or blank query returns messages unchanged.
func Filter(messages []store.Message, raw string) []store.Message {
	q := Parse(raw)
	if q.Empty() {
		return messages
	}
	out := make([]store.Message, 0, len(messages))
	for _, m := range messages {
		if q.Match(m) {
			out = append(out, m)
		}
	}
	return out
}

func contains(field, value string) bool {
	if value == "" {
		return true
	}
	return strings.Contains(fold(field), value)
}

// fold applies full Unicode case folding. A new Caser is used per call since
// Casers are not safe for concurrent use.
func fold(s string) string {
	return cases.Fold().String(s)
}
