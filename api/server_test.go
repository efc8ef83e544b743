package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/finfiles/finfiles/internal/analytics"
	"github.com/finfiles/finfiles/internal/audit"
	"github.com/finfiles/finfiles/internal/config"
	"github.com/finfiles/finfiles/internal/edgar"
	"github.com/finfiles/finfiles/internal/fetcher"
	"github.com/finfiles/finfiles/internal/filing"
	"github.com/finfiles/finfiles/internal/hub"
	"github.com/finfiles/finfiles/pkg/models"
)

const tickerMapJSON = `{"0": {"cik_str": 320193, "ticker": "ACME", "title": "Acme Corp"}}`

const submissionsJSON = `{
	"cik": "320193", "name": "Acme Corp",
	"filings": {"recent": {
		"accessionNumber": ["0000320193-24-000001", "0000320193-24-000002"],
		"form": ["10-K", "8-K"],
		"filingDate": ["2024-11-01", "2024-11-02"],
		"primaryDocument": ["doc.htm", "doc.htm"]
	}}
}`

const documentHTML = `<html><body><p>Revenue growth was strong this year. No material weakness was identified.</p></body></html>`

const atomFeedXML = `<?xml version="1.0" encoding="ISO-8859-1"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Acme Corp (0000320193)</title>
  <entry>
    <title>10-Q - Acme Corp (0000320193) (Filer)</title>
    <id>urn:tag:sec.gov,2008:accession-number=0000320193-24-000050</id>
    <updated>2024-08-02T18:04:21-04:00</updated>
    <link href="https://www.sec.gov/Archives/edgar/data/320193/000032019324000050-index.htm"/>
  </entry>
</feed>`

type mockBackend struct {
	payload string
}

func (m *mockBackend) ID() string                                    { return "mock" }
func (m *mockBackend) Supports(op models.AnalyticsOperation) bool    { return true }
func (m *mockBackend) Analyze(ctx context.Context, req analytics.Request) (*models.AnalyticsResult, error) {
	return &models.AnalyticsResult{Payload: m.payload}, nil
}

func edgarTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/files/company_tickers.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, tickerMapJSON)
	})
	mux.HandleFunc("/submissions/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, submissionsJSON)
	})
	mux.HandleFunc("/doc.htm", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, documentHTML)
	})
	mux.HandleFunc("/bad-doc.htm", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusInternalServerError)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("output") == "atom" {
			fmt.Fprint(w, atomFeedXML)
			return
		}
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	edgarSrv := edgarTestServer(t)
	client := edgar.NewClient(config.EdgarConfig{
		DataURL:      edgarSrv.URL,
		TickerMapURL: edgarSrv.URL + "/files/company_tickers.json",
		UserAgent:    "finfiles-test/1.0",
		RatePerSec:   1000,
	})

	store := filing.NewStore()
	h := hub.New(store, 64)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	auditLog, err := audit.Open(config.AuditConfig{
		DBPath:          filepath.Join(t.TempDir(), "audit.db"),
		FlushTimeoutSec: 5,
	})
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { auditLog.Close(context.Background()) })

	disp := analytics.NewDispatcher(2*time.Second, time.Minute)
	disp.Register(analytics.NewLocalBackend())
	disp.Register(&mockBackend{payload: "mock payload"})

	poller := fetcher.New(client, h, auditLog, fetcher.Config{
		MaxInFlight: 2,
		RetryBase:   time.Millisecond,
		RetryMax:    5 * time.Millisecond,
		MaxAttempts: 3,
	})

	cfg := &config.Config{}
	cfg.Fetcher.Tickers = []string{"ACME"}
	cfg.Edgar.BrowseURL = edgarSrv.URL

	s := NewServer(cfg, Deps{
		Store:      store,
		Hub:        h,
		Poller:     poller,
		Edgar:      client,
		Dispatcher: disp,
		Audit:      auditLog,
	})

	httpSrv := httptest.NewServer(s.Router())
	t.Cleanup(httpSrv.Close)
	return s, httpSrv
}

// A listen failure comes back to the caller instead of killing the
// process, so deferred shutdown (audit flush included) still runs.
func TestListenAndServeReturnsListenError(t *testing.T) {
	s, _ := testServer(t)

	err := s.ListenAndServe("256.256.256.256:0")
	if err == nil {
		t.Fatal("expected listen error for invalid address")
	}
}

func decodeResponse(t *testing.T, rec *http.Response) APIResponse {
	t.Helper()
	defer rec.Body.Close()
	var resp APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func seedFiling(s *Server, acc string, form models.FormType, docURL string) {
	s.hub.Ingest(models.Filing{
		AccessionID: acc,
		CIK:         "0000320193",
		Ticker:      "ACME",
		CompanyName: "Acme Corp",
		FormType:    form,
		FiledDate:   time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
		DocumentURL: docURL,
	})
}

func TestHealth(t *testing.T) {
	_, srv := testServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	body := decodeResponse(t, resp)
	if !body.Success {
		t.Errorf("health not successful: %+v", body)
	}
}

func TestFetchEndpoint(t *testing.T) {
	s, srv := testServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/fetch", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /fetch: %v", err)
	}
	body := decodeResponse(t, resp)
	if !body.Success {
		t.Fatalf("fetch failed: %s", body.Error)
	}
	if got := s.store.Len(); got != 2 {
		t.Errorf("store has %d filings after fetch, want 2", got)
	}
}

func TestFilingsQuery(t *testing.T) {
	s, srv := testServer(t)
	seedFiling(s, "0000320193-24-000010", models.Form10K, "")
	seedFiling(s, "0000320193-24-000011", models.Form8K, "")

	resp, err := http.Get(srv.URL + "/api/v1/filings?forms=10-K")
	if err != nil {
		t.Fatalf("GET /filings: %v", err)
	}
	body := decodeResponse(t, resp)
	if !body.Success {
		t.Fatalf("query failed: %s", body.Error)
	}
	raw, _ := json.Marshal(body.Data)
	var filings []models.Filing
	if err := json.Unmarshal(raw, &filings); err != nil {
		t.Fatalf("decode filings: %v", err)
	}
	if len(filings) != 1 || filings[0].FormType != models.Form10K {
		t.Errorf("got %+v, want one 10-K", filings)
	}

	// The query must leave a filter entry in the trail.
	entries, err := s.audit.Trail(context.Background(), audit.TrailFilter{Action: models.ActionFilter})
	if err != nil {
		t.Fatalf("Trail: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d filter audit entries, want 1", len(entries))
	}
}

func TestFilingsQueryBadDate(t *testing.T) {
	_, srv := testServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/filings?from=11-01-2024")
	if err != nil {
		t.Fatalf("GET /filings: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestFilingByID(t *testing.T) {
	s, srv := testServer(t)
	seedFiling(s, "0000320193-24-000010", models.Form10K, "")

	resp, err := http.Get(srv.URL + "/api/v1/filings/0000320193-24-000010")
	if err != nil {
		t.Fatalf("GET filing: %v", err)
	}
	if !decodeResponse(t, resp).Success {
		t.Error("lookup failed")
	}

	resp, err = http.Get(srv.URL + "/api/v1/filings/0000000000-00-000000")
	if err != nil {
		t.Fatalf("GET missing filing: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestFeedEndpoint(t *testing.T) {
	s, srv := testServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/feed/ACME")
	if err != nil {
		t.Fatalf("GET /feed: %v", err)
	}
	body := decodeResponse(t, resp)
	if !body.Success {
		t.Fatalf("feed failed: %s", body.Error)
	}
	raw, _ := json.Marshal(body.Data)
	var entries []edgar.RawFiling
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("decode feed: %v", err)
	}
	if len(entries) != 1 || entries[0].AccessionNumber != "0000320193-24-000050" {
		t.Errorf("feed entries = %+v", entries)
	}

	// The upstream fetch is audited like every other fetch action.
	audited, err := s.audit.Trail(context.Background(), audit.TrailFilter{Action: models.ActionFetch})
	if err != nil {
		t.Fatalf("Trail: %v", err)
	}
	if len(audited) != 1 || audited[0].Target != "feed:ACME" {
		t.Errorf("feed audit entries = %+v", audited)
	}
}

func TestFeedUnknownTicker(t *testing.T) {
	_, srv := testServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/feed/NOPE")
	if err != nil {
		t.Fatalf("GET /feed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestExportRequiresRole(t *testing.T) {
	_, srv := testServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/export?format=csv")
	if err != nil {
		t.Fatalf("GET /export: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for anonymous export", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestExportCSV(t *testing.T) {
	s, srv := testServer(t)
	seedFiling(s, "0000320193-24-000010", models.Form10K, "")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/export?format=csv", nil)
	req.Header.Set(actorHeader, "analyst")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /export: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv has %d lines, want header + 1 row: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "0000320193-24-000010") {
		t.Errorf("csv row missing accession: %q", lines[1])
	}

	entries, err := s.audit.Trail(context.Background(), audit.TrailFilter{Action: models.ActionExport})
	if err != nil {
		t.Fatalf("Trail: %v", err)
	}
	if len(entries) != 1 || entries[0].ActorRole != "analyst" {
		t.Errorf("export audit entries = %+v", entries)
	}
}

func TestAnalyticsRequiresRole(t *testing.T) {
	_, srv := testServer(t)
	resp, err := http.Post(srv.URL+"/api/v1/analytics", "application/json",
		strings.NewReader(`{"accession_id":"x","operation":"summarize"}`))
	if err != nil {
		t.Fatalf("POST /analytics: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for anonymous analytics", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAnalyticsEndpoint(t *testing.T) {
	s, srv := testServer(t)
	seedFiling(s, "0000320193-24-000010", models.Form10K, "")

	payload := `{"accession_id":"0000320193-24-000010","backend":"mock","operation":"summarize"}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/analytics", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(actorHeader, "analyst")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /analytics: %v", err)
	}
	body := decodeResponse(t, resp)
	if !body.Success {
		t.Fatalf("analytics failed: %s", body.Error)
	}
	raw, _ := json.Marshal(body.Data)
	var res models.AnalyticsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Payload != "mock payload" || res.BackendID != "mock" {
		t.Errorf("result = %+v", res)
	}

	entries, err := s.audit.Trail(context.Background(), audit.TrailFilter{Action: models.ActionAnalyticsInvoke})
	if err != nil {
		t.Fatalf("Trail: %v", err)
	}
	if len(entries) != 1 || entries[0].Outcome != models.OutcomeSuccess {
		t.Errorf("analytics audit entries = %+v", entries)
	}
}

// A failing document fetch surfaces as an upstream error, not as the
// backend's missing-document complaint.
func TestAnalyticsDocumentFetchFailure(t *testing.T) {
	s, srv := testServer(t)
	seedFiling(s, "0000320193-24-000010", models.Form10K, s.cfg.Edgar.BrowseURL+"/bad-doc.htm")

	payload := `{"accession_id":"0000320193-24-000010","backend":"local","operation":"summarize"}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/analytics", strings.NewReader(payload))
	req.Header.Set(actorHeader, "analyst")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /analytics: %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 for document fetch failure", resp.StatusCode)
	}
	body := decodeResponse(t, resp)
	if !strings.Contains(body.Error, "fetch filing document") {
		t.Errorf("error = %q, want document fetch cause", body.Error)
	}

	entries, err := s.audit.Trail(context.Background(), audit.TrailFilter{Action: models.ActionAnalyticsInvoke})
	if err != nil {
		t.Fatalf("Trail: %v", err)
	}
	if len(entries) != 1 || entries[0].Outcome != models.OutcomeFailure {
		t.Fatalf("audit entries = %+v", entries)
	}
	if !strings.Contains(entries[0].Detail, "fetch filing document") {
		t.Errorf("audit detail = %q, want document fetch cause", entries[0].Detail)
	}
}

func TestAnalyticsUnknownBackend(t *testing.T) {
	s, srv := testServer(t)
	seedFiling(s, "0000320193-24-000010", models.Form10K, "")

	payload := `{"accession_id":"0000320193-24-000010","backend":"nope","operation":"summarize"}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/analytics", strings.NewReader(payload))
	req.Header.Set(actorHeader, "analyst")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /analytics: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown backend", resp.StatusCode)
	}
	resp.Body.Close()

	// The failed invocation is still audited.
	entries, err := s.audit.Trail(context.Background(), audit.TrailFilter{Action: models.ActionAnalyticsInvoke})
	if err != nil {
		t.Fatalf("Trail: %v", err)
	}
	if len(entries) != 1 || entries[0].Outcome != models.OutcomeFailure {
		t.Errorf("audit entries = %+v", entries)
	}
}

func TestBackendsEndpoint(t *testing.T) {
	_, srv := testServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/backends")
	if err != nil {
		t.Fatalf("GET /backends: %v", err)
	}
	body := decodeResponse(t, resp)
	raw, _ := json.Marshal(body.Data)
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		t.Fatalf("decode backends: %v", err)
	}
	if len(ids) != 2 || ids[0] != "local" || ids[1] != "mock" {
		t.Errorf("backends = %v", ids)
	}
}

func TestAuditEndpoint(t *testing.T) {
	s, srv := testServer(t)
	if err := s.audit.Append(context.Background(), models.AuditEntry{
		ActorRole: "analyst", Action: models.ActionFetch, Target: "tickers(1)", Outcome: models.OutcomeSuccess,
	}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/audit?action=fetch")
	if err != nil {
		t.Fatalf("GET /audit: %v", err)
	}
	body := decodeResponse(t, resp)
	raw, _ := json.Marshal(body.Data)
	var entries []models.AuditEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != models.ActionFetch {
		t.Errorf("entries = %+v", entries)
	}
}

func TestWebSocketStream(t *testing.T) {
	s, srv := testServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?forms=10-K"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForSubscribers(t, s, 1)

	seedFiling(s, "0000320193-24-000010", models.Form10K, "")
	seedFiling(s, "0000320193-24-000011", models.Form8K, "") // filtered out

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "filing" {
		t.Fatalf("frame type = %q, want filing", msg.Type)
	}
	raw, _ := json.Marshal(msg.Data)
	var d hub.Delivery
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("decode delivery: %v", err)
	}
	if d.Filing.AccessionID != "0000320193-24-000010" {
		t.Errorf("delivered %q, want the 10-K", d.Filing.AccessionID)
	}

	// Unsubscribe and expect the closing frame with the reason.
	if err := conn.WriteJSON(WSMessage{Type: "unsubscribe"}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read closing frame: %v", err)
	}
	if msg.Type != "closed" {
		t.Fatalf("frame type = %q, want closed", msg.Type)
	}
	raw, _ = json.Marshal(msg.Data)
	var data map[string]string
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("decode close data: %v", err)
	}
	if data["reason"] != string(hub.ReasonUnsubscribed) {
		t.Errorf("close reason = %q, want %q", data["reason"], hub.ReasonUnsubscribed)
	}
}

func waitForSubscribers(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.hub.SubscriberCount() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber count never reached %d", n)
}
