package edgar

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/finfiles/finfiles/internal/infra"
)

// CompanyFeed returns recent filings for a CIK from the EDGAR Atom browse
// feed. The feed surfaces new filings faster than the submissions API, so
// it backs the live feed endpoint where staleness matters most.
func (c *Client) CompanyFeed(ctx context.Context, browseURL, cik string) ([]RawFiling, error) {
	u := fmt.Sprintf("%s?action=getcompany&CIK=%s&type=&dateb=&owner=include&count=40&output=atom",
		strings.TrimRight(browseURL, "/"), PadCIK(cik))

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, _, err := infra.DoGet(ctx, u, c.headers())
	if err != nil {
		return nil, fmt.Errorf("fetch EDGAR feed for CIK %s: %w", cik, err)
	}
	defer body.Close()

	feed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse EDGAR feed for CIK %s: %w", cik, err)
	}

	company := strings.TrimSpace(feed.Title)
	raws := make([]RawFiling, 0, len(feed.Items))
	for _, item := range feed.Items {
		raw := RawFiling{
			AccessionNumber: accessionFromFeedID(item.GUID),
			CIK:             cik,
			CompanyName:     company,
		}
		// Entry titles look like "10-K - Apple Inc. (0000320193) (Filer)".
		if i := strings.Index(item.Title, " - "); i > 0 {
			raw.FormType = strings.TrimSpace(item.Title[:i])
		} else {
			raw.FormType = strings.TrimSpace(item.Title)
		}
		if item.UpdatedParsed != nil {
			raw.FiledDate = item.UpdatedParsed.Format("2006-01-02")
		} else if item.PublishedParsed != nil {
			raw.FiledDate = item.PublishedParsed.Format("2006-01-02")
		}
		if item.Link != "" {
			raw.DocumentURL = item.Link
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

// accessionFromFeedID extracts the accession number from an Atom entry id
// of the form "urn:tag:sec.gov,2008:accession-number=0000320193-23-000106".
func accessionFromFeedID(id string) string {
	const marker = "accession-number="
	if i := strings.Index(id, marker); i >= 0 {
		return id[i+len(marker):]
	}
	return strings.TrimSpace(id)
}
