package scraper

import (
	"context"
	"fmt"
	"strings"

	"github.com/gocolly/colly/v2"
)

// GrantsGovAU scrapes the grants.gov.au "all grants" card listing.
type GrantsGovAU struct {
	URL  string
	opts Options
}

// NewGrantsGovAU returns a card-listing source for url.
func NewGrantsGovAU(url string, opts Options) *GrantsGovAU {
	return &GrantsGovAU{URL: url, opts: opts.withDefaults()}
}

func (g *GrantsGovAU) Name() string { return "grants_gov_au" }

// Scrape reads every div.grant-card. A card needs a title and a link;
// everything else is optional.
func (g *GrantsGovAU) Scrape(ctx context.Context) ([]Listing, error) {
	c, err := newCollector(ctx, g.Name(), g.opts)
	if err != nil {
		return nil, err
	}
	log := g.opts.Logger.With("source", g.Name())
	now := g.opts.Now().UTC()

	var listings []Listing
	c.OnHTML("div.grant-card", func(e *colly.HTMLElement) {
		title := text(e.DOM, "h3")
		href, _ := e.DOM.Find("a[href]").Not(".guidelines").First().Attr("href")
		source := ""
		if href = strings.TrimSpace(href); href != "" {
			source = e.Request.AbsoluteURL(href)
		}
		if title == "" || source == "" {
			log.Warn("skipping incomplete grant card", "index", e.Index, "title", title)
			return
		}

		l := Listing{
			Title:       title,
			Funder:      text(e.DOM, "div.funder"),
			Description: markdown(e.DOM, "div.description"),
			Amount:      ParseAmount(text(e.DOM, "div.amount")),
			SourceURL:   source,
			ScrapedAt:   now,
		}
		if l.Funder == "" {
			l.Funder = "Unknown"
		}
		if due := text(e.DOM, "div.due-date"); due != "" {
			if t, ok := ParseDate(due); ok {
				l.DueDate = t
			} else {
				log.Warn("could not parse due date", "date", due, "title", title)
			}
		}
		if guide, ok := e.DOM.Find("a.guidelines").First().Attr("href"); ok {
			l.GuidelinesURL = e.Request.AbsoluteURL(strings.TrimSpace(guide))
		}
		listings = append(listings, l)
	})

	if err := c.Visit(g.URL); err != nil {
		return nil, fmt.Errorf("grants.gov.au: fetch %s: %w", g.URL, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(listings) == 0 {
		return nil, ErrNoListings
	}
	return listings, nil
}
