package parser

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// parseMoney parses "1,234.56" into a decimal.
func parseMoney(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
}

// extractAmount returns the first currency amount matched by re. The boolean is
// false when the body holds no amount, which callers treat as "not a transaction".
func extractAmount(re *regexp.Regexp, body string) (decimal.Decimal, bool) {
	m := re.FindStringSubmatch(body)
	if m == nil {
		return decimal.Zero, false
	}
	d, err := parseMoney(m[1])
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}

// extractBalance returns nil when re does not match: an unknown balance.
func extractBalance(re *regexp.Regexp, body string) *decimal.Decimal {
	if re == nil {
		return nil
	}
	m := re.FindStringSubmatch(body)
	if m == nil {
		return nil
	}
	d, err := parseMoney(m[1])
	if err != nil {
		return nil
	}
	return &d
}

// extractFee returns zero when re does not match: no fee charged.
func extractFee(re *regexp.Regexp, body string) decimal.Decimal {
	if re == nil {
		return decimal.Zero
	}
	m := re.FindStringSubmatch(body)
	if m == nil {
		return decimal.Zero
	}
	d, err := parseMoney(m[1])
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// extractToken returns the first capture group of the first matching pattern.
func extractToken(body string, patterns ...*regexp.Regexp) *string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(body); m != nil && m[1] != "" {
			tok := m[1]
			return &tok
		}
	}
	return nil
}

// firstGroup returns the trimmed first capture group of re, or def.
func firstGroup(re *regexp.Regexp, body, def string) string {
	m := re.FindStringSubmatch(body)
	if m == nil {
		return def
	}
	if v := strings.TrimSpace(m[1]); v != "" {
		return v
	}
	return def
}

// namedNumber renders "NAME (NUMBER)".
func namedNumber(name, number string) string {
	return fmt.Sprintf("%s (%s)", strings.TrimSpace(name), number)
}

// normalizeMSISDN turns the international form 2547XXXXXXXX into 07XXXXXXXX.
func normalizeMSISDN(s string) string {
	if len(s) == 12 && strings.HasPrefix(s, "254") {
		return "0" + s[3:]
	}
	return s
}

// fallbackID builds an id for messages without a provider reference. It is
// stable for a given body and clock reading and differs across bodies.
func fallbackID(prefix, body string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", prefix, now.UnixMilli(), shortHash(body))
}

func shortHash(s string) string {
	sum := uuid.NewSHA1(uuid.NameSpaceOID, []byte(s))
	return hex.EncodeToString(sum[:4])
}

// distinguish re-derives a fallback id from the body and key, keeping the
// prefix and clock segment. Ids taken from a reference are left alone.
func distinguish(tx *Transaction, key string) {
	if tx.HasReference() {
		return
	}
	i := strings.LastIndexByte(tx.ID, '-')
	if i < 0 {
		return
	}
	tx.ID = tx.ID[:i+1] + shortHash(tx.Body+"\x00"+key)
}

func strPtr(s string) *string {
	return &s
}
