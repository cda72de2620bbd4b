package parser

import (
	"context"
	"runtime"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

// Message is a raw SMS handed to the registry for parsing. Received is
// optional; when set it tells apart identical bodies without a reference.
type Message struct {
	Sender   string    `json:"sender"`
	Body     string    `json:"body"`
	Received time.Time `json:"received,omitzero"`
}

// messageKey identifies the i-th message of a batch for fallback ids.
func messageKey(m Message, i int) string {
	if !m.Received.IsZero() {
		return "r" + strconv.FormatInt(m.Received.UnixMilli(), 10)
	}
	return "i" + strconv.Itoa(i)
}

// SortNewestFirst orders txs by Timestamp descending. Equal timestamps keep
// their relative input order.
func SortNewestFirst(txs []*Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Timestamp.After(txs[j].Timestamp)
	})
}

// ParseAll parses every body with p, drops unrecognized messages and returns
// the rest newest first.
func ParseAll(p Parser, bodies []string) []*Transaction {
	out := make([]*Transaction, 0, len(bodies))
	for i, body := range bodies {
		if tx := p.Parse(body); tx != nil {
			distinguish(tx, messageKey(Message{Body: body}, i))
			out = append(out, tx)
		}
	}
	SortNewestFirst(out)
	return out
}

// ParseMessages parses msgs with the parser registered for each sender.
// Messages from unknown senders are skipped like unrecognized bodies.
func (r *Registry) ParseMessages(msgs []Message) []*Transaction {
	out := make([]*Transaction, 0, len(msgs))
	for i, m := range msgs {
		tx, err := r.Parse(m.Sender, m.Body)
		if err != nil || tx == nil {
			continue
		}
		distinguish(tx, messageKey(m, i))
		out = append(out, tx)
	}
	SortNewestFirst(out)
	return out
}

// ParseMessagesConcurrent is ParseMessages spread over GOMAXPROCS workers.
// The result is identical to ParseMessages for the same input and clock.
func (r *Registry) ParseMessagesConcurrent(ctx context.Context, msgs []Message) ([]*Transaction, error) {
	results := make([]*Transaction, len(msgs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, m := range msgs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tx, err := r.Parse(m.Sender, m.Body)
			if err == nil && tx != nil {
				distinguish(tx, messageKey(m, i))
				results[i] = tx
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Collect in input order so the stable sort keeps ties deterministic.
	out := make([]*Transaction, 0, len(results))
	for _, tx := range results {
		if tx != nil {
			out = append(out, tx)
		}
	}
	SortNewestFirst(out)
	return out, nil
}
