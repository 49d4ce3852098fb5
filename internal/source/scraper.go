package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dropship-autopilot/internal/interfaces"
	"dropship-autopilot/internal/logger"
	"dropship-autopilot/internal/store"
	"dropship-autopilot/internal/types"
)

// Scraper discovers opportunities by crawling configured supplier sites.
// It is the LIVE counterpart of StaticSource.
type Scraper struct {
	sources []store.SupplierSource
	timeout time.Duration
}

var _ interfaces.OpportunitySource = (*Scraper)(nil)

func NewScraper(sources []store.SupplierSource, timeout time.Duration) *Scraper {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Scraper{sources: sources, timeout: timeout}
}

// Search crawls every configured supplier for the query and returns up to
// maxItems normalized opportunities. A failing supplier is skipped; Search
// only errors when no supplier could be reached at all.
func (s *Scraper) Search(ctx context.Context, query string, maxItems int) ([]types.Opportunity, error) {
	logger.Info(ctx, "Starting opportunity scraping", "query", query, "sources", len(s.sources))

	if len(s.sources) == 0 {
		return nil, fmt.Errorf("no supplier sources configured")
	}

	perSource := maxItems / len(s.sources)
	if perSource < 1 {
		perSource = 1
	}

	all := []types.Opportunity{}
	var lastErr error
	for _, src := range s.sources {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		opps, err := s.scrapeSource(ctx, src, query, perSource)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to scrape supplier", err, "supplier", src.Name, "query", query)
			lastErr = err
			continue
		}
		all = append(all, opps...)

		if d := time.Duration(src.RateLimitSeconds) * time.Second; d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		}
	}

	if len(all) == 0 && lastErr != nil {
		return nil, fmt.Errorf("all suppliers failed: %w", lastErr)
	}
	if len(all) > maxItems {
		all = all[:maxItems]
	}
	logger.Info(ctx, "Opportunity scraping completed", "query", query, "opportunities", len(all))
	return all, nil
}

func (s *Scraper) scrapeSource(ctx context.Context, src store.SupplierSource, query string, maxItems int) ([]types.Opportunity, error) {
	opps := []types.Opportunity{}

	c := colly.NewCollector(
		colly.AllowedDomains(getDomain(src.BaseURL)),
		colly.MaxDepth(1),
		colly.Async(false),
	)
	c.SetRequestTimeout(s.timeout)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	})

	c.OnHTML(src.Selectors.Item, func(e *colly.HTMLElement) {
		if len(opps) >= maxItems {
			return
		}

		title := firstText(e.DOM, src.Selectors.Title)
		if title == "" {
			return
		}

		itemURL := e.ChildAttr(src.Selectors.URL, "href")
		if itemURL == "" {
			return
		}
		if !strings.HasPrefix(itemURL, "http") {
			itemURL = src.BaseURL + itemURL
		}

		cost, ok := parsePrice(firstText(e.DOM, src.Selectors.Price))
		if !ok {
			return
		}

		markup := src.Markup
		if markup <= 1 {
			markup = 1.5
		}
		price := cost.Mul(decimal.NewFromFloat(markup)).Round(2)
		profit, roi := profitAndROI(cost, price)

		opps = append(opps, types.Opportunity{
			ID:                 uuid.NewString(),
			Title:              title,
			SourceURL:          itemURL,
			EstimatedCost:      cost,
			EstimatedSalePrice: price,
			EstimatedProfit:    profit,
			ROIPct:             roi,
			ConfidenceScore:    confidenceFor(cost, profit),
		})
	})

	c.OnError(func(r *colly.Response, err error) {
		logger.ErrorWithErr(ctx, "Scraping error", err, "supplier", src.Name, "url", r.Request.URL.String())
	})

	searchURL := src.BaseURL + strings.ReplaceAll(src.SearchPath, "{query}", url.QueryEscape(strings.ToLower(query)))
	if err := c.Visit(searchURL); err != nil {
		return nil, fmt.Errorf("failed to visit %s: %w", searchURL, err)
	}
	c.Wait()

	return opps, nil
}

// firstText returns the trimmed text of the first node matching selector.
func firstText(sel *goquery.Selection, selector string) string {
	return strings.TrimSpace(sel.Find(selector).First().Text())
}

// confidenceFor is a rough heuristic: cheap items with healthy margins list
// and sell more reliably than expensive thin-margin ones.
func confidenceFor(cost, profit decimal.Decimal) float64 {
	score := 0.5
	if cost.LessThan(decimal.NewFromInt(30)) {
		score += 0.2
	}
	if profit.GreaterThan(decimal.NewFromInt(10)) {
		score += 0.2
	}
	return score
}

// getDomain returns the hostname without the port; colly matches allowed
// domains against the bare hostname.
func getDomain(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
