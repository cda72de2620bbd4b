package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/brojonat/pesalog/service/parser"
)

type parsedResponse struct {
	*parser.Transaction
	Display parser.Display `json:"display"`
}

// handleParse returns a handler that parses raw SMS messages without storing them.
// POST /api/v1/parse
func handleParse(registry *parser.Registry, maxItems int, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []parser.Message `json:"messages"`
		}
		if err := decodeBody(w, r, maxBulkBodySize, &req); err != nil {
			logger.Debug("failed to decode parse request", "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Messages) > maxItems {
			writeError(w, fmt.Sprintf("too many messages: maximum is %d", maxItems), http.StatusBadRequest)
			return
		}

		txs, err := registry.ParseMessagesConcurrent(r.Context(), req.Messages)
		if err != nil {
			// Only a cancelled request gets here.
			logger.Debug("parse cancelled", "error", err)
			writeError(w, "request cancelled", http.StatusServiceUnavailable)
			return
		}

		resp := make([]parsedResponse, len(txs))
		for i, tx := range txs {
			resp[i] = parsedResponse{Transaction: tx, Display: parser.Format(tx)}
		}

		writeJSON(w, map[string]interface{}{
			"transactions": resp,
			"count":        len(resp),
			"skipped":      len(req.Messages) - len(resp),
		}, http.StatusOK)
	})
}
