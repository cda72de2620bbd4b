package parser

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Default sender addresses as they appear in the device inbox.
const (
	SenderMpesa = "MPESA"
	SenderKCB   = "KCB"
	SenderLoop  = "LOOP"
)

// ErrUnknownSender is returned when no parser is registered for a sender.
var ErrUnknownSender = errors.New("no parser registered for sender")

// Registry maps an SMS sender address to the parser for its grammar.
// Lookups are case-insensitive. A Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry returns a registry with the M-Pesa, KCB and LOOP parsers
// registered under their default sender addresses.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	r.Register(SenderMpesa, NewMpesa(opts...))
	r.Register(SenderKCB, NewKCB(opts...))
	r.Register(SenderLoop, NewLoop(opts...))
	return r
}

func normalizeSender(sender string) string {
	return strings.ToUpper(strings.TrimSpace(sender))
}

// Register binds sender to p, replacing any previous binding.
func (r *Registry) Register(sender string, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[normalizeSender(sender)] = p
}

// Lookup returns the parser registered for sender.
func (r *Registry) Lookup(sender string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[normalizeSender(sender)]
	return p, ok
}

// Parse parses body with the parser registered for sender. An unknown sender
// is an error; an unrecognized body is a nil transaction with no error.
func (r *Registry) Parse(sender, body string) (*Transaction, error) {
	p, ok := r.Lookup(sender)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownSender, sender)
	}
	return p.Parse(body), nil
}

// Senders returns the registered sender addresses in sorted order.
func (r *Registry) Senders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.parsers))
	for s := range r.parsers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ProviderForSender returns the provider whose parser handles sender.
func (r *Registry) ProviderForSender(sender string) (Provider, bool) {
	p, ok := r.Lookup(sender)
	if !ok {
		return "", false
	}
	return p.Provider(), true
}
