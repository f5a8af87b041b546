// Package scraper collects open grant listings from public Australian grant
// portals and normalises them for the grants table.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/A1anMc/GrantSGE/internal/db"
	"github.com/A1anMc/GrantSGE/internal/metrics"
)

// DefaultUserAgent identifies requests when SCRAPER_USER_AGENT is unset.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// ErrNoListings is returned when a listing page parsed but held no grants,
// which usually means the page layout changed.
var ErrNoListings = errors.New("no grant listings found")

// Listing is one scraped grant.
type Listing struct {
	Title       string
	Funder      string
	Description string
	Eligibility string
	Amount      Amount
	DueDate     time.Time
	SourceURL   string
	// GuidelinesURL is only published by some portals.
	GuidelinesURL string
	ScrapedAt     time.Time
}

// UpsertParams maps the listing onto the grants upsert.
func (l Listing) UpsertParams() db.UpsertGrantBySourceURLParams {
	desc := l.Description
	if l.Eligibility != "" {
		desc = strings.TrimSpace(desc + "\n\n## Eligibility\n\n" + l.Eligibility)
	}
	var amount string
	if !l.Amount.IsZero() {
		amount = l.Amount.String()
	}
	return db.UpsertGrantBySourceURLParams{
		Name:         truncate(l.Title, 200),
		Funder:       truncate(l.Funder, 200),
		SourceUrl:    l.SourceURL,
		DueDate:      db.NullTime(l.DueDate),
		AmountString: db.NullString(amount),
		Description:  db.NullString(desc),
		Status:       db.GrantStatusPotential,
	}
}

// Source is one grant portal.
type Source interface {
	Name() string
	Scrape(ctx context.Context) ([]Listing, error)
}

// Options controls how collectors fetch pages.
type Options struct {
	UserAgent string
	// Delay is the pause between requests to the same domain.
	Delay   time.Duration
	Timeout time.Duration
	// Pacer caps requests per second across every source sharing it.
	Pacer  *rate.Limiter
	Logger *slog.Logger
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// newCollector builds a synchronous collector bound to ctx. Requests wait on
// the shared pacer and are aborted once ctx is done.
func newCollector(ctx context.Context, source string, o Options) (*colly.Collector, error) {
	c := colly.NewCollector(
		colly.UserAgent(o.UserAgent),
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(o.Timeout)
	if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 1, Delay: o.Delay}); err != nil {
		return nil, fmt.Errorf("scraper %s: limit rule: %w", source, err)
	}

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-AU,en;q=0.9")
		if o.Pacer != nil {
			if err := o.Pacer.Wait(ctx); err != nil {
				r.Abort()
			}
		}
	})
	c.OnResponse(func(r *colly.Response) {
		metrics.ScraperHTTPResponses.WithLabelValues(source, statusClass(r.StatusCode)).Inc()
	})
	c.OnError(func(r *colly.Response, _ error) {
		code := 0
		if r != nil {
			code = r.StatusCode
		}
		metrics.ScraperHTTPResponses.WithLabelValues(source, statusClass(code)).Inc()
	})
	return c, nil
}

func statusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// text returns the whitespace-collapsed text of the first match.
func text(sel *goquery.Selection, selector string) string {
	return strings.Join(strings.Fields(sel.Find(selector).First().Text()), " ")
}

// markdown converts the inner HTML of the first match, falling back to its
// plain text when conversion fails.
func markdown(sel *goquery.Selection, selector string) string {
	node := sel.Find(selector).First()
	if node.Length() == 0 {
		return ""
	}
	html, err := node.Html()
	if err != nil {
		return text(sel, selector)
	}
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return text(sel, selector)
	}
	return strings.TrimSpace(md)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
