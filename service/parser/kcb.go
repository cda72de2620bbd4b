package parser

import "regexp"

var (
	kcbRefRe        = regexp.MustCompile(`\b(?i:M-PESA Ref|Ref)\b\.?:?\s*([A-Z0-9]+)\b`)
	kcbLeadingRefRe = regexp.MustCompile(`^([A-Z0-9]{10,})`)
	kcbAmountRe     = regexp.MustCompile(`(?i)(?:Ksh|KES)\s?([\d,]+\.\d{2})`)

	kcbSentRe     = regexp.MustCompile(`(?i)\bsent to KCB account ([A-Za-z0-9\s]+?)(?:\s+\d{7}\b|\s+has\b)`)
	kcbReceivedRe = regexp.MustCompile(`(?i)\breceived\b`)
	kcbDebitedRe  = regexp.MustCompile(`(?i)\bdebited\b`)
	kcbCreditedRe = regexp.MustCompile(`(?i)\bcredited\b`)

	kcbAccountRe    = regexp.MustCompile(`(?i)\bKCB account ([A-Za-z0-9\s]+?)\s+(\d{7})\b`)
	kcbMaskedFromRe = regexp.MustCompile(`(?i)\bfrom ([A-Za-z\s]+?)\s*-\s*(\d{3}\*+\d{3})`)
	kcbFromRe       = regexp.MustCompile(`(?i)\bfrom ([A-Za-z0-9\s]+?)(?:\s+at\b|\s+on\b|\s*\bvia\b|\.|$)`)
	kcbToRe         = regexp.MustCompile(`(?i)\bto ([A-Za-z0-9\s]+?)(?:\s+at\b|\s+on\b|\s*\bvia\b|\.|$)`)
)

// KCB messages use "at YYYY-MM-DD hh:mm:ss PM" in newer templates and
// "on DD/MM/YYYY at hh:mm PM" in older ones. The newer form wins when both appear.
var kcbDateFormats = []dateFormat{isoDate12hFormat, longDateFormat}

var kcbRules = ruleSet{
	{
		name:  "sent",
		match: kcbSentRe,
		typ:   TypeExpense,
		title: "Sent to KCB Account",
		party: kcbAccount,
	},
	{
		name:  "received",
		match: kcbReceivedRe,
		typ:   TypeIncome,
		title: "Received from KCB",
		party: kcbSender,
	},
	{
		name:  "debited",
		match: kcbDebitedRe,
		typ:   TypeExpense,
		title: "Debited from Account",
		party: partyFrom(UnknownParty, kcbToRe),
	},
	{
		name:  "credited",
		match: kcbCreditedRe,
		typ:   TypeIncome,
		title: "Credited to Account",
		party: partyFrom(UnknownParty, kcbFromRe),
	},
}

func kcbAccount(body string) string {
	if m := kcbAccountRe.FindStringSubmatch(body); m != nil {
		return namedNumber(m[1], m[2])
	}
	return firstGroup(kcbSentRe, body, UnknownParty)
}

// kcbSender prefers the masked account form "NAME - 134****909".
func kcbSender(body string) string {
	if m := kcbMaskedFromRe.FindStringSubmatch(body); m != nil {
		return namedNumber(m[1], m[2])
	}
	return firstGroup(kcbFromRe, body, UnknownParty)
}

// KCBParser parses KCB Bank notifications.
type KCBParser struct {
	opts options
}

func NewKCB(opts ...Option) *KCBParser {
	return &KCBParser{opts: newOptions(opts)}
}

func (p *KCBParser) Provider() Provider { return ProviderKCB }

func (p *KCBParser) Rules() []string { return kcbRules.names() }

// Parse returns nil when the body has no Ksh/KES amount or matches no rule.
// KCB notifications never carry a fee.
func (p *KCBParser) Parse(body string) *Transaction {
	amount, ok := extractAmount(kcbAmountRe, body)
	if !ok {
		return nil
	}
	r, ok := kcbRules.classify(body)
	if !ok {
		return nil
	}

	now := p.opts.now()
	date, clock, ts := extractDate(kcbDateFormats, body, now, p.opts.loc)

	tx := assemble(ProviderKCB, r, body, amount, date, clock, ts)
	tx.Reference = extractToken(body, kcbRefRe, kcbLeadingRefRe)
	if tx.Reference != nil {
		tx.ID = *tx.Reference
	} else {
		tx.ID = fallbackID("KCB", body, now)
	}
	return tx
}
