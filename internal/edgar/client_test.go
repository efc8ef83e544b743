package edgar

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/finfiles/finfiles/internal/config"
)

const tickerMapJSON = `{
	"0": {"cik_str": 320193, "ticker": "AAPL", "title": "Apple Inc."},
	"1": {"cik_str": 789019, "ticker": "MSFT", "title": "Microsoft Corp"}
}`

const submissionsJSON = `{
	"cik": "320193",
	"name": "Apple Inc.",
	"filings": {
		"recent": {
			"accessionNumber": ["0000320193-24-000001", "0000320193-24-000002"],
			"form": ["10-K", "8-K"],
			"filingDate": ["2024-11-01", "2024-10-15"],
			"primaryDocument": ["aapl-10k.htm", "aapl-8k.htm"],
			"primaryDocDescription": ["Annual report", "Current report"]
		}
	}
}`

func newTestClient(t *testing.T) (*Client, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/files/company_tickers.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, tickerMapJSON)
	})
	mux.HandleFunc("/submissions/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "CIK0000320193.json") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, submissionsJSON)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(config.EdgarConfig{
		DataURL:      srv.URL,
		TickerMapURL: srv.URL + "/files/company_tickers.json",
		UserAgent:    "finfiles-test/1.0",
		RatePerSec:   100,
	})
	return c, srv
}

func TestResolveTicker(t *testing.T) {
	c, _ := newTestClient(t)

	cik, err := c.ResolveTicker(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("ResolveTicker failed: %v", err)
	}
	if cik != "320193" {
		t.Errorf("expected CIK 320193, got %s", cik)
	}

	// Numeric input passes through as a CIK.
	cik, err = c.ResolveTicker(context.Background(), "1318605")
	if err != nil {
		t.Fatalf("numeric resolve failed: %v", err)
	}
	if cik != "1318605" {
		t.Errorf("expected passthrough CIK, got %s", cik)
	}

	if _, err := c.ResolveTicker(context.Background(), "NOPE"); err == nil {
		t.Error("expected error for unknown ticker")
	}
}

func TestResolveTickerCachesMap(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/files/company_tickers.json", func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, tickerMapJSON)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(config.EdgarConfig{
		DataURL:      srv.URL,
		TickerMapURL: srv.URL + "/files/company_tickers.json",
		UserAgent:    "finfiles-test/1.0",
		RatePerSec:   100,
	})

	for i := 0; i < 3; i++ {
		if _, err := c.ResolveTicker(context.Background(), "MSFT"); err != nil {
			t.Fatalf("resolve %d failed: %v", i, err)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 ticker map fetch, got %d", calls)
	}
}

func TestRecentFilings(t *testing.T) {
	c, _ := newTestClient(t)

	raws, err := c.RecentFilings(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("RecentFilings failed: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("expected 2 filings, got %d", len(raws))
	}

	first := raws[0]
	if first.AccessionNumber != "0000320193-24-000001" {
		t.Errorf("unexpected accession: %s", first.AccessionNumber)
	}
	if first.FormType != "10-K" {
		t.Errorf("unexpected form: %s", first.FormType)
	}
	if first.FiledDate != "2024-11-01" {
		t.Errorf("unexpected date: %s", first.FiledDate)
	}
	if first.Ticker != "AAPL" {
		t.Errorf("unexpected ticker: %s", first.Ticker)
	}
	if !strings.Contains(first.DocumentURL, "000032019324000001/aapl-10k.htm") {
		t.Errorf("unexpected document URL: %s", first.DocumentURL)
	}
}

func TestCompanyFeed(t *testing.T) {
	atom := `<?xml version="1.0" encoding="ISO-8859-1"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Apple Inc. (0000320193)</title>
  <entry>
    <title>10-Q - Apple Inc. (0000320193) (Filer)</title>
    <id>urn:tag:sec.gov,2008:accession-number=0000320193-24-000050</id>
    <updated>2024-08-02T18:04:21-04:00</updated>
    <link href="https://www.sec.gov/Archives/edgar/data/320193/000032019324000050-index.htm"/>
  </entry>
</feed>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("output") != "atom" {
			http.Error(w, "not atom", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, atom)
	}))
	defer srv.Close()

	c := NewClient(config.EdgarConfig{
		DataURL:    srv.URL,
		UserAgent:  "finfiles-test/1.0",
		RatePerSec: 100,
	})

	raws, err := c.CompanyFeed(context.Background(), srv.URL, "320193")
	if err != nil {
		t.Fatalf("CompanyFeed failed: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(raws))
	}
	if raws[0].AccessionNumber != "0000320193-24-000050" {
		t.Errorf("unexpected accession: %s", raws[0].AccessionNumber)
	}
	if raws[0].FormType != "10-Q" {
		t.Errorf("unexpected form: %s", raws[0].FormType)
	}
	if raws[0].FiledDate != "2024-08-02" {
		t.Errorf("unexpected filed date: %s", raws[0].FiledDate)
	}
}

func TestDocumentText(t *testing.T) {
	html := `<html><head><style>p{color:red}</style><script>var x=1;</script></head>
<body><h1>FORM 10-K</h1><p>Annual   report for   fiscal year.</p></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, html)
	}))
	defer srv.Close()

	c := NewClient(config.EdgarConfig{UserAgent: "finfiles-test/1.0", RatePerSec: 100})
	text, err := c.DocumentText(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("DocumentText failed: %v", err)
	}
	if !strings.Contains(text, "FORM 10-K") || !strings.Contains(text, "Annual report for fiscal year.") {
		t.Errorf("unexpected text: %q", text)
	}
	if strings.Contains(text, "var x=1") || strings.Contains(text, "color:red") {
		t.Errorf("script/style leaked into text: %q", text)
	}
}

func TestSanitizeTicker(t *testing.T) {
	cases := []struct{ in, want string }{
		{" aapl ", "AAPL"},
		{"brk.b", "BRK.B"},
		{"msft;drop table--", "MSFTDROPTABLE--"},
		{"<script>", "SCRIPT"},
	}
	for _, c := range cases {
		if got := SanitizeTicker(c.in); got != c.want {
			t.Errorf("SanitizeTicker(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPadCIK(t *testing.T) {
	if got := PadCIK("320193"); got != "0000320193" {
		t.Errorf("PadCIK = %s", got)
	}
	if got := PadCIK("0000320193"); got != "0000320193" {
		t.Errorf("PadCIK on padded input = %s", got)
	}
}
