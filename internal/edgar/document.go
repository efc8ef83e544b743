package edgar

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/finfiles/finfiles/internal/infra"
)

// maxDocumentBytes caps how much filing text is handed to analytics
// backends. Full 10-Ks run to megabytes of HTML.
const maxDocumentBytes = 512 * 1024

// DocumentText fetches a filing document and extracts its plain text,
// stripping markup, scripts, and styles. The result feeds analytics
// backends; it is never stored in the filing index.
func (c *Client) DocumentText(ctx context.Context, url string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	body, _, err := infra.DoGet(ctx, url, map[string]string{"User-Agent": c.userAgent})
	if err != nil {
		return "", fmt.Errorf("fetch filing document: %w", err)
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("parse filing document: %w", err)
	}

	doc.Find("script, style").Remove()

	var b strings.Builder
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		b.WriteString(sel.Text())
	})
	text := b.String()
	if text == "" {
		// Plain-text filings have no body element.
		text = doc.Text()
	}

	text = collapseWhitespace(text)
	if len(text) > maxDocumentBytes {
		text = text[:maxDocumentBytes]
	}
	return text, nil
}

// collapseWhitespace squeezes runs of whitespace into single spaces while
// keeping paragraph breaks.
func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\r', '\n', '\u00a0':
			space = true
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
