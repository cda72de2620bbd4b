package source

import (
	"context"
	"encoding/json"
	"os"
	"time"
)

// dumpSMS is one row of an Android content-provider dump. Numeric columns
// come through as numbers or strings depending on the exporter.
type dumpSMS struct {
	ID      json.Number `json:"_id"`
	Address string      `json:"address"`
	Body    string      `json:"body"`
	Date    json.Number `json:"date"`
	Type    json.Number `json:"type"`
}

// JSONDump reads a JSON array of inbox rows as produced by SMS listing
// libraries on Android.
type JSONDump struct {
	Path string
}

func (j *JSONDump) ListMessages(ctx context.Context, f Filter) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(j.Path)
	if err != nil {
		return nil, readError(j.Path, err)
	}

	var rows []dumpSMS
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, decodeError(j.Path, err)
	}

	msgs := make([]Message, 0, len(rows))
	for _, row := range rows {
		if row.Type != "" && row.Type != "1" {
			continue
		}
		ms, err := row.Date.Int64()
		if err != nil {
			continue
		}
		msgs = append(msgs, Message{
			ID:       row.ID.String(),
			Sender:   row.Address,
			Body:     row.Body,
			Received: time.UnixMilli(ms),
		})
	}
	return apply(msgs, f), nil
}
