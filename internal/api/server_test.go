package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cratemind/internal/config"
	"cratemind/internal/logging"
	"cratemind/internal/store"
)

func newTestServer(t *testing.T, token string) (*fixture, *httptest.Server) {
	t.Helper()
	f := newFixture(t, func(c *config.Config) { c.API.Token = token })
	srv := httptest.NewServer(NewRouter(Options{
		Lookup:  f.lookup,
		Backend: f.classifier,
		Metrics: f.metrics.Handler(),
		Token:   token,
		Logger:  logging.NewNop(),
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func do(t *testing.T, method, url, token string, body any, out any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp
}

func TestHTTPIngestSignalAndLookup(t *testing.T) {
	_, srv := newTestServer(t, "")

	var ingested IngestResponse
	resp := do(t, http.MethodPost, srv.URL+"/api/v1/items", "", IngestRequest{
		ContentHash: "ABCDEF01", Path: "/music/one.flac", SizeBytes: 1234, Artist: "Deadmau5",
	}, &ingested)
	if resp.StatusCode != http.StatusCreated || !ingested.IsNew || ingested.ItemID == "" {
		t.Fatalf("ingest: %d %+v", resp.StatusCode, ingested)
	}

	var sub SubmissionResponse
	resp = do(t, http.MethodPost, srv.URL+"/api/v1/signals", "", SignalRequest{
		ItemID: ingested.ItemID, SourceType: "exact_match", SourceID: "beatport", Category: "House", Subcategory: "Progressive House",
	}, &sub)
	if resp.StatusCode != http.StatusCreated || sub.Classification.PrimaryCategory != "House" {
		t.Fatalf("signal: %d %+v", resp.StatusCode, sub)
	}
	if len(sub.Classification.Breakdown) != 1 || sub.Classification.Breakdown[0].SourceID != "beatport" {
		t.Fatalf("breakdown missing: %+v", sub.Classification)
	}

	var answer Answer
	resp = do(t, http.MethodGet, srv.URL+"/api/v1/classifications/abcdef01", "", nil, &answer)
	if resp.StatusCode != http.StatusOK || !answer.Resolved || answer.Subcategory != "Progressive House" {
		t.Fatalf("lookup by hash: %d %+v", resp.StatusCode, answer)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/classifications?path=/music/one.flac", "", nil, &answer)
	if resp.StatusCode != http.StatusOK || answer.ItemID != ingested.ItemID {
		t.Fatalf("lookup by path: %d %+v", resp.StatusCode, answer)
	}

	var batch BatchResponse
	resp = do(t, http.MethodPost, srv.URL+"/api/v1/classifications:batch", "", BatchRequest{
		Queries: []Query{{Hash: "abcdef01"}, {Hash: "012345"}},
	}, &batch)
	if resp.StatusCode != http.StatusOK || len(batch.Answers) != 2 || batch.Answers[1].Reason != ReasonNotFound {
		t.Fatalf("batch: %d %+v", resp.StatusCode, batch)
	}

	var full Classification
	resp = do(t, http.MethodGet, srv.URL+"/api/v1/items/"+ingested.ItemID+"/classification", "", nil, &full)
	if resp.StatusCode != http.StatusOK || full.Version != 1 || full.Status != "resolved" || !full.Resolved {
		t.Fatalf("classification: %d %+v", resp.StatusCode, full)
	}
}

func TestHTTPItemClassificationAppliesFloor(t *testing.T) {
	f, srv := newTestServer(t, "")
	f.lookup.floor = 0.95
	id := f.item(t, "bbbbbb02", "/music/crowd.flac")
	f.signal(t, id, store.SourceCommunityPattern, "crowd", "Trance")

	var full Classification
	resp := do(t, http.MethodGet, srv.URL+"/api/v1/items/"+id+"/classification", "", nil, &full)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("classification status %d", resp.StatusCode)
	}
	if full.Resolved || full.Reason != ReasonInsufficientConfidence {
		t.Fatalf("expected insufficient confidence verdict: %+v", full)
	}
	if full.PrimaryCategory != "" || full.Subcategory != "" {
		t.Fatalf("category must be withheld below the floor: %+v", full)
	}
	if full.Status != "resolved" || len(full.Breakdown) != 1 {
		t.Fatalf("detail should keep status and breakdown: %+v", full)
	}
}

func TestHTTPVotesAndReview(t *testing.T) {
	f, srv := newTestServer(t, "")
	id := f.item(t, "fedcba98", "/music/dispute.flac")

	var sub SubmissionResponse
	for _, v := range []VoteRequest{
		{Contributor: "alice", ItemID: id, Category: "House"},
		{Contributor: "bob", ItemID: id, Category: "Techno"},
	} {
		resp := do(t, http.MethodPost, srv.URL+"/api/v1/votes", "", v, &sub)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("vote: %d", resp.StatusCode)
		}
	}
	if sub.Classification.Status != "disputed" {
		t.Fatalf("expected a disputed item, got %+v", sub.Classification)
	}

	var review ReviewResponse
	resp := do(t, http.MethodGet, srv.URL+"/api/v1/review", "", nil, &review)
	if resp.StatusCode != http.StatusOK || len(review.Items) != 1 || review.Items[0].ItemID != id {
		t.Fatalf("review: %d %+v", resp.StatusCode, review)
	}
}

func TestHTTPErrors(t *testing.T) {
	_, srv := newTestServer(t, "")
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"missing path", http.MethodGet, "/api/v1/classifications", nil, http.StatusBadRequest, "validation"},
		{"bad hash ingest", http.MethodPost, "/api/v1/items", IngestRequest{ContentHash: "xyz", Path: "/a"}, http.StatusBadRequest, "validation"},
		{"unknown field", http.MethodPost, "/api/v1/signals", map[string]string{"bogus": "1"}, http.StatusBadRequest, "validation"},
		{"unknown source", http.MethodPost, "/api/v1/signals", SignalRequest{ItemID: "x", SourceType: "psychic", SourceID: "a", Category: "House"}, http.StatusBadRequest, "validation"},
		{"unknown item", http.MethodGet, "/api/v1/items/missing/classification", nil, http.StatusNotFound, "not_found"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var body ErrorResponse
			resp := do(t, tc.method, srv.URL+tc.path, "", tc.body, &body)
			if resp.StatusCode != tc.status || body.Kind != tc.kind || body.Retriable {
				t.Fatalf("got %d %+v", resp.StatusCode, body)
			}
		})
	}
}

func TestHTTPTokenGuardsWrites(t *testing.T) {
	_, srv := newTestServer(t, "s3cret")
	req := IngestRequest{ContentHash: "0a0a0a0a", Path: "/guarded.flac"}

	var denied ErrorResponse
	if resp := do(t, http.MethodPost, srv.URL+"/api/v1/items", "", req, &denied); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodPost, srv.URL+"/api/v1/items", "wrong", req, &denied); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", resp.StatusCode)
	}
	var ok IngestResponse
	if resp := do(t, http.MethodPost, srv.URL+"/api/v1/items", "s3cret", req, &ok); resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 with token, got %d", resp.StatusCode)
	}
	var answer Answer
	if resp := do(t, http.MethodGet, srv.URL+"/api/v1/classifications/0a0a0a0a", "", nil, &answer); resp.StatusCode != http.StatusOK {
		t.Fatalf("lookups stay open, got %d", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, srv := newTestServer(t, "")
	var health map[string]string
	if resp := do(t, http.MethodGet, srv.URL+"/healthz", "", nil, &health); resp.StatusCode != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("healthz: %d %v", resp.StatusCode, health)
	}
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(buf.String(), "cratemind_") {
		t.Fatalf("metrics endpoint: %d", resp.StatusCode)
	}
}
