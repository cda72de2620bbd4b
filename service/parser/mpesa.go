package parser

import "regexp"

var (
	mpesaCodeRe    = regexp.MustCompile(`^([A-Z0-9]{6,})\s`)
	mpesaAmountRe  = regexp.MustCompile(`(?i)Ksh\s?([\d,]+\.\d{2})`)
	mpesaBalanceRe = regexp.MustCompile(`(?i)New M-PESA balance is Ksh\s?([\d,]+\.\d{2})`)
	mpesaCostRe    = regexp.MustCompile(`(?i)Transaction cost,?\s*Ksh\s?([\d,]+\.\d{2})`)

	mpesaReceivedRe  = regexp.MustCompile(`(?i)You have received|received Ksh`)
	mpesaSentRe      = regexp.MustCompile(`(?i)\bsent to ([A-Za-z0-9\s]+?)(?:\s+\d{10}|\s+on\b)`)
	mpesaPaidRe      = regexp.MustCompile(`(?i)\bpaid to ([A-Za-z0-9\s]+?)(?:\.|\s+on\b)`)
	mpesaWithdrawnRe = regexp.MustCompile(`(?i)withdrawn? (?:Ksh\s?[\d,]+\.\d{2}\s)?from`)
	mpesaAirtimeRe   = regexp.MustCompile(`(?i)bought.*airtime|airtime for`)

	mpesaFromRe      = regexp.MustCompile(`(?i)\bfrom ([A-Za-z0-9\s]+?)(?:\s+\d{10}|\s+on\b)`)
	mpesaAgentRe     = regexp.MustCompile(`(?i)\bfrom (\d+)\s*-\s*([A-Za-z0-9 ]+?)(?:\s+New\b|\s+on\b|\.|$)`)
	mpesaAgentNameRe = regexp.MustCompile(`(?i)\bfrom ([A-Za-z0-9\s]+?)(?:\s+on\b|\s+-)`)
	mpesaForNumberRe = regexp.MustCompile(`\bfor (\d{10})\b`)
)

var mpesaRules = ruleSet{
	{
		name:  "received",
		match: mpesaReceivedRe,
		typ:   TypeIncome,
		title: "Incoming Payment",
		party: partyFrom(UnknownParty, mpesaFromRe),
	},
	{
		name:  "sent",
		match: mpesaSentRe,
		typ:   TypeExpense,
		title: "Outgoing Payment",
		party: partyFrom(UnknownParty, mpesaSentRe),
	},
	{
		name:  "paid",
		match: mpesaPaidRe,
		typ:   TypeExpense,
		title: "Outgoing Payment",
		party: partyFrom(UnknownParty, mpesaPaidRe),
	},
	{
		name:  "withdrawn",
		match: mpesaWithdrawnRe,
		typ:   TypeExpense,
		title: "Cash Withdrawal",
		party: mpesaAgent,
	},
	{
		name:  "airtime",
		match: mpesaAirtimeRe,
		typ:   TypeExpense,
		title: "Airtime Purchase",
		party: partyFrom("Self", mpesaForNumberRe),
	},
}

// mpesaAgent renders "123456 - SHOP NAME" agent tags as "SHOP NAME (123456)".
func mpesaAgent(body string) string {
	if m := mpesaAgentRe.FindStringSubmatch(body); m != nil {
		return namedNumber(m[2], m[1])
	}
	return firstGroup(mpesaAgentNameRe, body, "M-Pesa Agent")
}

// MpesaParser parses Safaricom M-Pesa confirmation messages.
type MpesaParser struct {
	opts options
}

// NewMpesa returns an M-Pesa parser.
func NewMpesa(opts ...Option) *MpesaParser {
	return &MpesaParser{opts: newOptions(opts)}
}

func (p *MpesaParser) Provider() Provider { return ProviderMpesa }

// Rules lists the classification names in evaluation order.
func (p *MpesaParser) Rules() []string { return mpesaRules.names() }

// Parse returns nil when the body has no Ksh amount or matches no rule.
func (p *MpesaParser) Parse(body string) *Transaction {
	amount, ok := extractAmount(mpesaAmountRe, body)
	if !ok {
		return nil
	}
	r, ok := mpesaRules.classify(body)
	if !ok {
		return nil
	}

	now := p.opts.now()
	date, clock, ts := extractDate([]dateFormat{shortDateFormat}, body, now, p.opts.loc)

	tx := assemble(ProviderMpesa, r, body, amount, date, clock, ts)
	tx.NewBalance = extractBalance(mpesaBalanceRe, body)
	tx.Fee = extractFee(mpesaCostRe, body)
	tx.Reference = extractToken(body, mpesaCodeRe)
	if tx.Reference != nil {
		tx.ID = *tx.Reference
	} else {
		tx.ID = fallbackID("TX", body, now)
	}
	return tx
}
