package ledger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestServer(t *testing.T, limiter *rate.Limiter) (*fixture, *httptest.Server) {
	t.Helper()
	f := newFixture(t)
	r := chi.NewRouter()
	NewHandler(f.svc, nil, limiter).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func doJSON(t *testing.T, method, url string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type lineResponse struct {
	ID                uuid.UUID `json:"id"`
	Status            Status    `json:"status"`
	Approver          string    `json:"approver"`
	Quantity          int       `json:"quantity"`
	ReturnedQuantity  int       `json:"returned_quantity"`
	RemainingQuantity int       `json:"remaining_quantity"`
	IsFullyReturned   bool      `json:"is_fully_returned"`
	Version           int       `json:"version"`
}

func TestHandlerLifecycle(t *testing.T) {
	f, srv := newTestServer(t, nil)

	var created struct {
		EventID uuid.UUID      `json:"event_id"`
		Lines   []lineResponse `json:"lines"`
		Summary EventSummary   `json:"summary"`
	}
	status := doJSON(t, http.MethodPost, srv.URL+"/events", map[string]interface{}{
		"event_id":  f.eventID,
		"requester": "rep-1",
		"details":   f.visit(),
		"lines":     []map[string]interface{}{{"variant_id": f.shoe.ID, "quantity": 4}},
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	require.Len(t, created.Lines, 1)
	lineURL := srv.URL + "/lines/" + created.Lines[0].ID.String()

	var line lineResponse
	status = doJSON(t, http.MethodPost, lineURL+"/approve", decisionRequest{Actor: "A"}, &line)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, StatusApproved, line.Status)
	assert.Equal(t, "A", line.Approver)
	assert.Equal(t, 4, line.RemainingQuantity)

	status = doJSON(t, http.MethodPost, lineURL+"/returns", returnRequest{Actor: "B", Quantity: 4}, &line)
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, line.IsFullyReturned)
	assert.Equal(t, 4, line.ReturnedQuantity)
	assert.Zero(t, line.RemainingQuantity)

	var history []AuditEntry
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, lineURL+"/history", nil, &history))
	require.Len(t, history, 2)
	assert.Equal(t, "A", history[0].Actor)
	assert.Equal(t, "B", history[1].Actor)

	var page struct {
		Items []lineResponse `json:"items"`
		Total int            `json:"total"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/lines?status=approved&page=1&limit=10", nil, &page))
	assert.Equal(t, 1, page.Total)
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/lines?status=not_returned", nil, &page))
	assert.Zero(t, page.Total)

	var summary EventSummary
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/summary?event_id="+f.eventID.String(), nil, &summary))
	assert.Equal(t, 1, summary.FullyReturned)

	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/events/"+f.eventID.String(), nil, &created))
	assert.True(t, created.Lines[0].IsFullyReturned)
}

func TestHandlerErrors(t *testing.T) {
	f, srv := newTestServer(t, nil)
	line := f.openLines(t, 2)[0]
	lineURL := srv.URL + "/lines/" + line.ID.String()

	cases := []struct {
		name   string
		method string
		url    string
		body   interface{}
		status int
		kind   string
	}{
		{"bad line id", http.MethodGet, srv.URL + "/lines/nope", nil, http.StatusBadRequest, KindInvalidInput},
		{"unknown line", http.MethodGet, srv.URL + "/lines/" + uuid.NewString(), nil, http.StatusNotFound, KindNotFound},
		{"missing actor", http.MethodPost, lineURL + "/approve", decisionRequest{}, http.StatusBadRequest, KindInvalidInput},
		{"return before approval", http.MethodPost, lineURL + "/returns", returnRequest{Actor: "B", Quantity: 1}, http.StatusConflict, KindInvalidTransition},
		{"unknown filter", http.MethodGet, srv.URL + "/lines?status=lost", nil, http.StatusBadRequest, KindInvalidInput},
		{"bad page", http.MethodGet, srv.URL + "/lines?page=-1", nil, http.StatusBadRequest, KindInvalidInput},
		{"unknown event", http.MethodGet, srv.URL + "/events/" + uuid.NewString(), nil, http.StatusNotFound, KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body errorBody
			assert.Equal(t, tc.status, doJSON(t, tc.method, tc.url, tc.body, &body))
			assert.Equal(t, tc.kind, body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}

	t.Run("over return", func(t *testing.T) {
		_, err := f.svc.Approve(testCtx, line.ID, "A", "")
		require.NoError(t, err)

		var body errorBody
		assert.Equal(t, http.StatusUnprocessableEntity, doJSON(t, http.MethodPost, lineURL+"/returns", returnRequest{Actor: "B", Quantity: 3}, &body))
		assert.Equal(t, KindOverReturn, body.Error)

		assert.Equal(t, http.StatusUnprocessableEntity, doJSON(t, http.MethodPost, lineURL+"/returns", returnRequest{Actor: "B", Quantity: 0}, &body))
		assert.Equal(t, KindInvalidQuantity, body.Error)

		assert.Equal(t, http.StatusConflict, doJSON(t, http.MethodPost, lineURL+"/approve", decisionRequest{Actor: "A"}, &body))
		assert.Equal(t, KindInvalidTransition, body.Error)
	})
}

func TestHandlerRateLimit(t *testing.T) {
	f, srv := newTestServer(t, rate.NewLimiter(rate.Limit(0.001), 1))
	line := f.openLines(t, 1)[0]
	lineURL := srv.URL + "/lines/" + line.ID.String()

	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, lineURL+"/approve", decisionRequest{Actor: "A"}, nil))

	var body errorBody
	assert.Equal(t, http.StatusTooManyRequests, doJSON(t, http.MethodPost, lineURL+"/reject", decisionRequest{Actor: "A"}, &body))
	assert.Equal(t, "RateLimited", body.Error)

	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, lineURL, nil, nil))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(KindNotFound))
	assert.Equal(t, http.StatusConflict, StatusFor(KindInvalidTransition))
	assert.Equal(t, http.StatusConflict, StatusFor(KindConflict))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(KindOverReturn))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(KindInvalidQuantity))
	assert.Equal(t, http.StatusBadRequest, StatusFor(KindInvalidInput))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(KindInternal))
}
