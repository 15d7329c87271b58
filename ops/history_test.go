package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evan-idocoding/peon/internal/journal"
)

type fakeHistory struct {
	records []journal.Record
	err     error
	limit   int
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]journal.Record, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func TestHistoryHandler(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeHistory{records: []journal.Record{
		{ID: "b", Type: "import", Name: "import", State: "failed", Progress: 2, ErrorMessage: "bad row", StartedAt: start, EndedAt: start.Add(3 * time.Second)},
		{ID: "a", Type: "backup", Name: "backup", State: "finished", Progress: 5, StartedAt: start, EndedAt: start.Add(time.Second)},
	}}

	w := serve(HistoryHandler(src), http.MethodGet, "/history")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 50, src.limit)
	body := w.Body.String()
	assert.Contains(t, body, "run\tb\tstate\tfailed\n")
	assert.Contains(t, body, "run\tb\terror\tbad row\n")
	assert.Contains(t, body, "run\tb\telapsed\t3s\n")
	assert.Contains(t, body, "run\ta\tended\t2026-03-01T12:00:01Z\n")

	w = serve(HistoryHandler(src), http.MethodGet, "/history?limit=1&format=json")
	assert.Equal(t, http.StatusOK, w.Code)
	var resp historyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "b", resp.Records[0].ID)
}

func TestHistoryHandler_Limits(t *testing.T) {
	src := &fakeHistory{}

	w := serve(HistoryHandler(src, WithHistoryLimits(10, 20)), http.MethodGet, "/history?limit=1000")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, src.limit)

	w = serve(HistoryHandler(src), http.MethodGet, "/history?limit=-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = serve(HistoryHandler(src), http.MethodGet, "/history?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryHandler_SourceError(t *testing.T) {
	src := &fakeHistory{err: errors.New("journal: query: disk I/O error")}

	w := serve(HistoryHandler(src), http.MethodGet, "/history")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "journal: query: disk I/O error\n", w.Body.String())
}

func TestBuildInfoAndRuntimeHandlers(t *testing.T) {
	w := serve(BuildInfoHandler(), http.MethodGet, "/buildinfo")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "build\tversion\t"+Version+"\n")

	w = serve(RuntimeHandler(WithDefaultFormat(FormatJSON)), http.MethodGet, "/runtime")
	assert.Equal(t, http.StatusOK, w.Code)
	var resp runtimeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Runtime)
	assert.Positive(t, resp.Runtime.Goroutines)

	w = serve(RuntimeHandler(), http.MethodDelete, "/runtime")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
