// Package source reads raw SMS messages from an inbox export.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrPermissionDenied means the inbox exists but may not be read.
	ErrPermissionDenied = errors.New("sms inbox permission denied")

	// ErrSourceUnavailable means the inbox could not be read or decoded.
	ErrSourceUnavailable = errors.New("sms source unavailable")
)

// Message is one SMS as stored in the device inbox.
type Message struct {
	ID       string    `json:"id"`
	Sender   string    `json:"sender"`
	Body     string    `json:"body"`
	Received time.Time `json:"received"`
}

// Filter selects messages from a single sender.
type Filter struct {
	Sender string
	// MaxCount caps the result to the newest N messages. Zero uses
	// DefaultMaxCount for the sender.
	MaxCount int
	// Since drops messages received before it when non-zero.
	Since time.Time
}

// Source lists inbox messages.
type Source interface {
	ListMessages(ctx context.Context, f Filter) ([]Message, error)
}

var defaultMaxCounts = map[string]int{
	"MPESA": 1000,
	"KCB":   200,
	"LOOP":  200,
}

// DefaultMaxCount returns the fetch limit used for sender when a filter
// does not set one. Unknown senders are unlimited (0).
func DefaultMaxCount(sender string) int {
	return defaultMaxCounts[strings.ToUpper(strings.TrimSpace(sender))]
}

// Formats understood by Open.
const (
	FormatXML  = "xml"
	FormatJSON = "json"
)

// Open returns a file-backed source. An empty format is inferred from the
// file extension.
func Open(path, format string) (Source, error) {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch strings.ToLower(format) {
	case FormatXML:
		return &XMLBackup{Path: path}, nil
	case FormatJSON:
		return &JSONDump{Path: path}, nil
	default:
		return nil, fmt.Errorf("unsupported source format %q (want xml or json)", format)
	}
}

// readError maps a file read error onto the source sentinels.
func readError(path string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("read %s: %w: %w", path, ErrPermissionDenied, err)
	}
	return fmt.Errorf("read %s: %w: %w", path, ErrSourceUnavailable, err)
}

func decodeError(path string, err error) error {
	return fmt.Errorf("decode %s: %w: %w", path, ErrSourceUnavailable, err)
}

// apply filters msgs by f and returns the newest first. Identical
// (received, sender, body) triples are collapsed; backups often repeat them.
func apply(msgs []Message, f Filter) []Message {
	sender := strings.ToUpper(strings.TrimSpace(f.Sender))
	seen := make(map[string]bool, len(msgs))
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if sender != "" && strings.ToUpper(strings.TrimSpace(m.Sender)) != sender {
			continue
		}
		if !f.Since.IsZero() && m.Received.Before(f.Since) {
			continue
		}
		key := fmt.Sprintf("%d|%s|%s", m.Received.UnixMilli(), m.Sender, m.Body)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Received.After(out[j].Received)
	})

	limit := f.MaxCount
	if limit <= 0 {
		limit = DefaultMaxCount(f.Sender)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Static serves a fixed list of messages.
type Static []Message

func (s Static) ListMessages(ctx context.Context, f Filter) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return apply(s, f), nil
}
