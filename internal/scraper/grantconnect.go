package scraper

import (
	"context"
	"fmt"
	"strings"

	"github.com/gocolly/colly/v2"
)

// GrantConnect scrapes the GrantConnect "current opportunities" listing and,
// optionally, each grant's detail page.
type GrantConnect struct {
	ListURL      string
	FetchDetails bool
	opts         Options
}

// NewGrantConnect returns a GrantConnect source for listURL.
func NewGrantConnect(listURL string, fetchDetails bool, opts Options) *GrantConnect {
	return &GrantConnect{ListURL: listURL, FetchDetails: fetchDetails, opts: opts.withDefaults()}
}

func (g *GrantConnect) Name() string { return "grantconnect" }

// Scrape reads every div.grant-listing on the list page. Listings missing a
// title link, agency or close date are skipped. Detail page failures are
// logged and leave the listing without a description.
func (g *GrantConnect) Scrape(ctx context.Context) ([]Listing, error) {
	c, err := newCollector(ctx, g.Name(), g.opts)
	if err != nil {
		return nil, err
	}
	log := g.opts.Logger.With("source", g.Name())
	now := g.opts.Now().UTC()

	var listings []Listing
	c.OnHTML("div.grant-listing", func(e *colly.HTMLElement) {
		link := e.DOM.Find("h3.grant-title a").First()
		href, hasLink := link.Attr("href")
		title := strings.Join(strings.Fields(link.Text()), " ")
		funder := text(e.DOM, "div.grant-agency")
		closes := text(e.DOM, "div.grant-close-date")
		if !hasLink || strings.TrimSpace(href) == "" || title == "" || funder == "" || closes == "" {
			log.Warn("skipping incomplete grant listing", "index", e.Index, "title", title)
			return
		}
		source := e.Request.AbsoluteURL(strings.TrimSpace(href))
		if source == "" {
			log.Warn("skipping grant listing with invalid link", "href", href)
			return
		}
		l := Listing{
			Title:     title,
			Funder:    funder,
			SourceURL: source,
			ScrapedAt: now,
		}
		if due, ok := ParseDate(closes); ok {
			l.DueDate = due
		} else {
			log.Warn("could not parse close date", "date", closes, "title", title)
		}
		listings = append(listings, l)
	})

	if err := c.Visit(g.ListURL); err != nil {
		return nil, fmt.Errorf("grantconnect: fetch %s: %w", g.ListURL, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(listings) == 0 {
		return nil, ErrNoListings
	}

	if g.FetchDetails {
		if err := g.details(ctx, listings); err != nil {
			return listings, err
		}
	}
	return listings, nil
}

// details fills description, amount and eligibility from each detail page.
// Only context cancellation is returned; page failures are logged.
func (g *GrantConnect) details(ctx context.Context, listings []Listing) error {
	c, err := newCollector(ctx, g.Name(), g.opts)
	if err != nil {
		return err
	}
	var current *Listing
	c.OnHTML("body", func(e *colly.HTMLElement) {
		current.Description = markdown(e.DOM, "div.grant-description")
		current.Eligibility = markdown(e.DOM, "div.grant-eligibility")
		if amount := text(e.DOM, "div.grant-amount"); amount != "" {
			current.Amount = ParseAmount(amount)
		}
	})

	for i := range listings {
		if err := ctx.Err(); err != nil {
			return err
		}
		current = &listings[i]
		if err := c.Visit(current.SourceURL); err != nil {
			g.opts.Logger.Warn("grant detail scrape failed", "source", g.Name(), "url", current.SourceURL, "error", err)
		}
	}
	return nil
}
