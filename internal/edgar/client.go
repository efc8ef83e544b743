// Package edgar implements the SEC EDGAR upstream client.
// EDGAR provides free access to company filings via REST APIs and Atom
// feeds. No API key is required, but every request must carry a
// descriptive User-Agent per SEC policy, and clients are capped at
// 10 requests/second per user-agent.
//
// Docs: https://www.sec.gov/edgar/sec-api-documentation
package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/finfiles/finfiles/internal/config"
	"github.com/finfiles/finfiles/internal/infra"
)

// RawFiling is one filing descriptor as returned by the upstream source,
// before normalization. All fields are raw strings; the normalizer owns
// validation.
type RawFiling struct {
	AccessionNumber string
	FormType        string
	FiledDate       string // YYYY-MM-DD
	CIK             string
	CompanyName     string
	Ticker          string
	DocumentURL     string
}

// Client talks to SEC EDGAR.
type Client struct {
	dataURL      string
	tickerMapURL string
	userAgent    string
	limiter      *infra.RateLimiter

	mu     sync.Mutex
	cikMap map[string]string // UPPER(ticker) → CIK, loaded once per process
}

// NewClient creates an EDGAR client from configuration.
func NewClient(cfg config.EdgarConfig) *Client {
	rate := cfg.RatePerSec
	if rate <= 0 {
		rate = 8
	}
	return &Client{
		dataURL:      strings.TrimRight(cfg.DataURL, "/"),
		tickerMapURL: cfg.TickerMapURL,
		userAgent:    cfg.UserAgent,
		limiter:      infra.NewRateLimiter(rate, time.Second),
	}
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"User-Agent": c.userAgent,
		"Accept":     "application/json",
	}
}

// fetchJSON performs a rate-limited GET against EDGAR and decodes JSON.
func (c *Client) fetchJSON(ctx context.Context, url string, dest any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, _, err := infra.DoGet(ctx, url, c.headers())
	if err != nil {
		return err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read EDGAR response: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("parse EDGAR JSON: %w", err)
	}
	return nil
}

// ResolveTicker resolves a ticker symbol to its CIK number using the SEC
// company tickers map. The map is static for a process run, so it is
// fetched once and cached.
func (c *Client) ResolveTicker(ctx context.Context, ticker string) (string, error) {
	sym := SanitizeTicker(ticker)
	if sym == "" {
		return "", fmt.Errorf("invalid ticker %q", ticker)
	}

	c.mu.Lock()
	cached := c.cikMap
	c.mu.Unlock()

	if cached == nil {
		var entries map[string]tickerEntry
		if err := c.fetchJSON(ctx, c.tickerMapURL, &entries); err != nil {
			return "", fmt.Errorf("fetch company tickers: %w", err)
		}
		cached = make(map[string]string, len(entries))
		for _, e := range entries {
			cached[strings.ToUpper(e.Ticker)] = fmt.Sprintf("%d", e.CIK)
		}
		c.mu.Lock()
		c.cikMap = cached
		c.mu.Unlock()
	}

	if cik, ok := cached[sym]; ok {
		return cik, nil
	}
	// A numeric input is already a CIK.
	if isNumeric(sym) {
		return sym, nil
	}
	return "", fmt.Errorf("CIK not found for ticker %s", ticker)
}

// RecentFilings returns the recent filings for a ticker from the EDGAR
// submissions API, newest first as upstream returns them.
func (c *Client) RecentFilings(ctx context.Context, ticker string) ([]RawFiling, error) {
	cik, err := c.ResolveTicker(ctx, ticker)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/submissions/CIK%s.json", c.dataURL, PadCIK(cik))
	var resp submissionsResponse
	if err := c.fetchJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("fetch submissions for %s: %w", ticker, err)
	}

	recent := resp.Filings.Recent
	n := len(recent.AccessionNumber)
	raws := make([]RawFiling, 0, n)
	for i := 0; i < n; i++ {
		raw := RawFiling{
			AccessionNumber: recent.AccessionNumber[i],
			CIK:             resp.CIK,
			CompanyName:     resp.Name,
			Ticker:          strings.ToUpper(ticker),
		}
		if i < len(recent.Form) {
			raw.FormType = recent.Form[i]
		}
		if i < len(recent.FilingDate) {
			raw.FiledDate = recent.FilingDate[i]
		}
		if i < len(recent.PrimaryDocument) && recent.PrimaryDocument[i] != "" {
			accClean := strings.ReplaceAll(raw.AccessionNumber, "-", "")
			raw.DocumentURL = fmt.Sprintf("https://www.sec.gov/Archives/edgar/data/%s/%s/%s",
				resp.CIK, accClean, recent.PrimaryDocument[i])
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

// SanitizeTicker upper-cases a ticker and strips everything that is not a
// letter, digit, dot, or dash.
func SanitizeTicker(ticker string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(ticker)) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PadCIK pads a CIK number to 10 digits with leading zeros.
func PadCIK(cik string) string {
	for len(cik) < 10 {
		cik = "0" + cik
	}
	return cik
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
