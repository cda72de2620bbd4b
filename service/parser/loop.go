package parser

import "regexp"

var (
	loopRefRe      = regexp.MustCompile(`\b(?i:LOOP Ref)[,:\s]*([A-Z0-9]+)\b`)
	loopMpesaRefRe = regexp.MustCompile(`\b(?i:M-?Pesa Ref)[,:\s]*([A-Z0-9]+)\b`)
	loopAmountRe   = regexp.MustCompile(`(?i)(?:Ksh|KES)[.\s]?([\d,]+\.\d{2})`)
	loopFeeRe      = regexp.MustCompile(`(?i)\bFee[:\s]*(?:charged is\s*)?(?:Ksh|KES)[.\s]?([\d,]+\.\d{2})`)

	loopPaymentCreditRe = regexp.MustCompile(`(?i)credited your Payment account`)
	loopSentRe          = regexp.MustCompile(`(?i)successfully sent`)
	loopDebitedRe       = regexp.MustCompile(`(?i)\bdebited\b`)
	loopCreditedRe      = regexp.MustCompile(`(?i)\bcredited\b`)

	loopFromMSISDNRe = regexp.MustCompile(`(?i)\bfrom (\d{12})\b`)
	loopRecipientRe  = regexp.MustCompile(`(?i)\bto (\d{10})\s*-\s*([A-Za-z\s]+?)(?:\.|\s*\bFee\b|\s*\bLOOP\b)`)
	loopToPhoneRe    = regexp.MustCompile(`(?i)\bto (\d{10})\b`)
	loopToRe         = regexp.MustCompile(`(?i)\bto ([A-Za-z0-9\s]+?)(?:\.|\s*\bFee\b|\s*\bLOOP\b|\s+on\b)`)
	loopFromRe       = regexp.MustCompile(`(?i)\bfrom ([A-Za-z0-9\s]+?)(?:\.|\s*\bFee\b|\s*\bLOOP\b|\s+on\b)`)
)

var loopRules = ruleSet{
	{
		name:  "payment-credit",
		match: loopPaymentCreditRe,
		typ:   TypeIncome,
		title: "Received via LOOP",
		party: loopDepositor,
	},
	{
		name:  "sent",
		match: loopSentRe,
		typ:   TypeExpense,
		title: "Sent via LOOP",
		party: loopRecipient,
	},
	{
		name:  "debited",
		match: loopDebitedRe,
		typ:   TypeExpense,
		title: "Sent via LOOP",
		party: partyFrom(UnknownParty, loopToRe),
	},
	{
		name:  "credited",
		match: loopCreditedRe,
		typ:   TypeIncome,
		title: "Received via LOOP",
		party: partyFrom(UnknownParty, loopFromRe),
	},
}

// loopDepositor reads the depositing MSISDN in local 07XXXXXXXX form.
func loopDepositor(body string) string {
	if m := loopFromMSISDNRe.FindStringSubmatch(body); m != nil {
		return normalizeMSISDN(m[1])
	}
	return UnknownParty
}

// loopRecipient renders "to 0717145963 - NAME" as "NAME (0717145963)".
func loopRecipient(body string) string {
	if m := loopRecipientRe.FindStringSubmatch(body); m != nil {
		return namedNumber(m[2], m[1])
	}
	return firstGroup(loopToPhoneRe, body, UnknownParty)
}

// LoopParser parses LOOP (NCBA) wallet notifications. A LOOP message may
// carry both its own reference and the M-Pesa reference of the leg it settled.
type LoopParser struct {
	opts options
}

func NewLoop(opts ...Option) *LoopParser {
	return &LoopParser{opts: newOptions(opts)}
}

func (p *LoopParser) Provider() Provider { return ProviderLoop }

func (p *LoopParser) Rules() []string { return loopRules.names() }

func (p *LoopParser) Parse(body string) *Transaction {
	amount, ok := extractAmount(loopAmountRe, body)
	if !ok {
		return nil
	}
	r, ok := loopRules.classify(body)
	if !ok {
		return nil
	}

	now := p.opts.now()
	date, clock, ts := extractDate([]dateFormat{longDate24hFormat}, body, now, p.opts.loc)

	tx := assemble(ProviderLoop, r, body, amount, date, clock, ts)
	tx.Fee = extractFee(loopFeeRe, body)
	tx.LoopRef = extractToken(body, loopRefRe)
	tx.MpesaRef = extractToken(body, loopMpesaRefRe)

	switch {
	case tx.LoopRef != nil:
		tx.Reference = tx.LoopRef
	case tx.MpesaRef != nil:
		tx.Reference = tx.MpesaRef
	}
	if tx.Reference != nil {
		tx.ID = *tx.Reference
	} else {
		tx.ID = fallbackID("LOOP", body, now)
	}
	return tx
}
