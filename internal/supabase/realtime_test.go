package supabase_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"citysnap-backend/internal/events"
	"citysnap-backend/internal/supabase"
	supabasego "github.com/supabase-community/supabase-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealtimePublisher_InsertsEventRow(t *testing.T) {
	var (
		gotPath string
		gotRow  []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		// PostgREST accepts either an object or an array of objects.
		if err := json.Unmarshal(body, &gotRow); err != nil {
			var single map[string]any
			if json.Unmarshal(body, &single) == nil {
				gotRow = []map[string]any{single}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	client, err := supabasego.NewClient(srv.URL, "anon-key", nil)
	require.NoError(t, err)

	pub := supabase.NewRealtimePublisher(client, "report_events")
	err = pub.Publish(events.Event{
		Type:     events.AnalysisCompleted,
		ReportID: 42,
		UserID:   "u1",
		AIStatus: "벤치 파손",
		At:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, "/rest/v1/report_events", gotPath)
	require.Len(t, gotRow, 1)
	assert.Equal(t, float64(42), gotRow[0]["report_id"])
	assert.Equal(t, "analysis.completed", gotRow[0]["event"])
	assert.Equal(t, "벤치 파손", gotRow[0]["ai_status"])
}
