package parser

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// rule is one classification: when match hits the body, the message is a
// transaction of typ with the given title, and party extracts the counterparty.
type rule struct {
	name  string
	match *regexp.Regexp
	typ   TxType
	title string
	party func(body string) string
}

// ruleSet is evaluated top to bottom. The first matching rule wins, so the
// order is the tie-break policy between overlapping phrasings.
type ruleSet []rule

func (rs ruleSet) classify(body string) (rule, bool) {
	for _, r := range rs {
		if r.match.MatchString(body) {
			return r, true
		}
	}
	return rule{}, false
}

func (rs ruleSet) names() []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.name
	}
	return out
}

// partyFrom returns an extractor that tries each pattern in order and
// falls back to def.
func partyFrom(def string, patterns ...*regexp.Regexp) func(string) string {
	return func(body string) string {
		for _, re := range patterns {
			if v := firstGroup(re, body, ""); v != "" {
				return v
			}
		}
		return def
	}
}

// assemble builds the common part of a Transaction once a rule has matched.
func assemble(p Provider, r rule, body string, amount decimal.Decimal, date, clock string, ts time.Time) *Transaction {
	return &Transaction{
		Provider:  p,
		Type:      r.typ,
		Title:     r.title,
		Party:     r.party(body),
		Amount:    amount,
		Date:      date,
		Time:      clock,
		Timestamp: ts,
		Body:      body,
	}
}
