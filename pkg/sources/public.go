package sources

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"proxy-pool/pkg/config"
	"proxy-pool/pkg/models"
)

// feedUserAgent keeps the free aggregators from serving their bot page.
const feedUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// PublicProvider acquires candidates from free aggregator feeds: plain
// text endpoints that take filter query parameters, and HTML table pages
// that are scraped for anonymous rows.
type PublicProvider struct {
	config  config.PublicConfig
	filter  *Filter
	logger  *slog.Logger
	limiter *rate.Limiter
	client  *http.Client
}

func newPublicProvider(config config.PublicConfig, filter *Filter, logger *slog.Logger) *PublicProvider {
	if config.RatePerSec <= 0 {
		config.RatePerSec = 2 // polite default when not specified
	}

	return &PublicProvider{
		config:  config,
		filter:  filter,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSec), 1),
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

func (p *PublicProvider) Name() string {
	return "public"
}

func (p *PublicProvider) Tier() models.Tier {
	return models.TierPublic
}

// Acquire fans out over the configured feeds, one goroutine per feed,
// sharing a politeness limiter. A failing feed is logged and skipped;
// the provider errors only when every feed produced nothing.
func (p *PublicProvider) Acquire(ctx context.Context) ([]Candidate, error) {
	var (
		mu         sync.Mutex
		candidates []Candidate
	)
	seen := make(map[string]bool)

	add := func(batch []Candidate) {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range batch {
			if seen[c.Address] {
				continue
			}
			seen[c.Address] = true
			candidates = append(candidates, c)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, feed := range p.config.Feeds {
		feed := feed
		g.Go(func() error {
			batch, err := p.fetchTextFeed(gctx, feed)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.logger.Warn("public feed failed", "feed", feed, "error", err)
				return nil
			}
			add(batch)
			return nil
		})
	}
	for _, feed := range p.config.HTMLFeeds {
		feed := feed
		g.Go(func() error {
			batch, err := p.fetchHTMLFeed(gctx, feed)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.logger.Warn("public HTML feed failed", "feed", feed, "error", err)
				return nil
			}
			add(batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("no public feed produced candidates")
	}

	// Shuffle so repeated cycles do not always hammer the same entries
	// at the front of the feed.
	shuffleCandidates(candidates)
	return candidates, nil
}

// fetchTextFeed queries a newline-delimited aggregator endpoint with the
// configured filter parameters.
func (p *PublicProvider) fetchTextFeed(ctx context.Context, feed string) ([]Candidate, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u, err := url.Parse(feed)
	if err != nil {
		return nil, fmt.Errorf("invalid feed URL: %w", err)
	}
	q := u.Query()
	q.Set("request", "get")
	q.Set("protocol", p.config.Protocol)
	q.Set("timeout", strconv.Itoa(p.config.TimeoutMs))
	if len(p.config.Countries) > 0 {
		q.Set("country", strings.Join(p.config.Countries, ","))
	}
	if p.config.SSL {
		q.Set("ssl", "yes")
	} else {
		q.Set("ssl", "all")
	}
	if p.config.Anonymity != "" {
		q.Set("anonymity", p.config.Anonymity)
	}
	if p.config.MinUptime > 0 {
		q.Set("uptime", strconv.Itoa(p.config.MinUptime))
	}
	q.Set("format", "textplain")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", feedUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var candidates []Candidate
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		address, err := ParseAddress(line)
		if err != nil {
			continue
		}
		if !p.filter.Accept(address) {
			continue
		}
		candidates = append(candidates, Candidate{
			Address: address,
			Tier:    models.TierPublic,
			Source:  p.Name(),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feed body: %v", err)
	}
	return candidates, nil
}

// fetchHTMLFeed scrapes an aggregator page whose proxies sit in a table
// with ip, port, country, anonymity and https columns. Only anonymous
// and elite rows are kept.
func (p *PublicProvider) fetchHTMLFeed(ctx context.Context, feed string) ([]Candidate, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", feed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", feedUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed HTML: %v", err)
	}

	var candidates []Candidate
	doc.Find("table tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 7 {
			return
		}
		ip := strings.TrimSpace(cells.Eq(0).Text())
		port := strings.TrimSpace(cells.Eq(1).Text())
		country := strings.TrimSpace(cells.Eq(2).Text())
		anonymity := strings.ToLower(strings.TrimSpace(cells.Eq(4).Text()))
		https := strings.ToLower(strings.TrimSpace(cells.Eq(6).Text()))

		if anonymity != "elite proxy" && anonymity != "anonymous" {
			return
		}
		if p.config.SSL && https != "yes" {
			return
		}
		address, err := ParseAddress(ip + ":" + port)
		if err != nil {
			return
		}
		if !p.filter.Accept(address) {
			return
		}
		candidates = append(candidates, Candidate{
			Address: address,
			Tier:    models.TierPublic,
			Region:  country,
			Source:  p.Name(),
		})
	})
	return candidates, nil
}

func shuffleCandidates(slice []Candidate) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := len(slice) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		slice[i], slice[j] = slice[j], slice[i]
	}
}
