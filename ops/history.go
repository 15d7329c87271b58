package ops

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/evan-idocoding/peon/internal/journal"
)

// HistorySource returns finished task records, newest first.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]journal.Record, error)
}

type historyResponse struct {
	OK      bool             `json:"ok"`
	Error   string           `json:"error,omitempty"`
	Records []journal.Record `json:"records,omitempty"`
}

// HistoryHandler lists recently finished tasks. GET/HEAD only.
//
// Input: ?limit=<n> (optional, clamped to the configured maximum; see WithHistoryLimits).
//
// Text output, one block per record keyed by id:
//
//	run	<id>	type	<type>
//	run	<id>	state	<state>
//	run	<id>	ended	<RFC3339>
//	...
func HistoryHandler(src HistorySource, opts ...Option) http.Handler {
	if src == nil {
		panic("ops: nil HistorySource")
	}
	cfg := applyOptions(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeMethodNotAllowed(w, r, format, "GET, HEAD", historyResponse{Error: "method not allowed"})
			return
		}
		limit, err := getQueryInt(r, "limit", cfg.defaultLimit)
		if err != nil || limit <= 0 {
			const msg = "invalid limit"
			writeResponse(w, r, format, http.StatusBadRequest, historyResponse{Error: msg}, msg, nil)
			return
		}
		if limit > cfg.maxLimit {
			limit = cfg.maxLimit
		}

		recs, err := src.Recent(r.Context(), limit)
		if err != nil {
			msg := err.Error()
			writeResponse(w, r, format, http.StatusInternalServerError, historyResponse{Error: msg}, msg, nil)
			return
		}
		writeResponse(w, r, format, http.StatusOK, historyResponse{OK: true, Records: recs}, "", func(b *strings.Builder) {
			for _, rec := range recs {
				renderRecordText(b, rec)
			}
		})
	})
}

func renderRecordText(b *strings.Builder, rec journal.Record) {
	writeLine(b, "run", rec.ID, "type", rec.Type)
	writeLine(b, "run", rec.ID, "name", rec.Name)
	writeLine(b, "run", rec.ID, "state", rec.State)
	writeLine(b, "run", rec.ID, "progress", strconv.Itoa(rec.Progress))
	if !rec.EndedAt.IsZero() {
		writeLine(b, "run", rec.ID, "ended", rec.EndedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	}
	writeLine(b, "run", rec.ID, "elapsed", rec.Elapsed().String())
	if rec.Status != "" {
		writeLine(b, "run", rec.ID, "status", rec.Status)
	}
	if rec.ErrorMessage != "" {
		writeLine(b, "run", rec.ID, "error", rec.ErrorMessage)
	}
	if rec.Fault != "" {
		writeLine(b, "run", rec.ID, "fault", rec.Fault)
	}
}
