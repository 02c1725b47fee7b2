package source

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ListingConfig locates the variation links on the publisher's site.
type ListingConfig struct {
	// URL of the listing page.
	URL string `yaml:"url"`
	// Container selects the element holding the links. The first match is
	// used; no match means the site layout changed.
	Container string `yaml:"container"`
	// Prefix every accepted link must start with.
	Prefix string `yaml:"prefix"`
	// Exclude drops links containing any of these substrings.
	Exclude []string `yaml:"exclude"`
}

func (c *ListingConfig) defaults() {
	if c.URL == "" {
		c.URL = "https://www.ispascalcomandini.it/variazioni-orario-istituto-tecnico-tecnologico/2017/09/15/"
	}
	if c.Container == "" {
		c.Container = "#post-612 div.entry-content"
	}
	if c.Prefix == "" {
		c.Prefix = "https://www.ispascalcomandini.it/wp-content/uploads/"
	}
	if c.Exclude == nil {
		c.Exclude = []string{"parte2", "aule"}
	}
}

// Discoverer lists the document links currently published.
type Discoverer struct {
	fetcher *Fetcher
	config  ListingConfig
	logger  *slog.Logger
}

// NewDiscoverer reads the listing page through f.
func NewDiscoverer(f *Fetcher, cfg ListingConfig, logger *slog.Logger) *Discoverer {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{fetcher: f, config: cfg, logger: logger}
}

// Links returns the accepted document links in page order, without
// duplicates. Relative hrefs are resolved against the listing URL.
func (d *Discoverer) Links(ctx context.Context) ([]string, error) {
	page, err := d.fetcher.Fetch(ctx, d.config.URL)
	if err != nil {
		return nil, fmt.Errorf("listing: %w", err)
	}
	links, err := d.extract(page)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("source: links discovered", "count", len(links))
	return links, nil
}

func (d *Discoverer) extract(page []byte) ([]string, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("listing: parse html: %w", err)
	}
	containers := querySelectorAll(doc, d.config.Container)
	if len(containers) == 0 {
		return nil, fmt.Errorf("%w: no element matches %q", ErrLayoutChanged, d.config.Container)
	}

	base, err := url.Parse(d.config.URL)
	if err != nil {
		return nil, fmt.Errorf("listing: bad url: %w", err)
	}

	var links []string
	seen := make(map[string]bool)
	for _, a := range querySelectorAll(containers[0], "a") {
		href := strings.TrimSpace(getAttr(a, "href"))
		if href == "" {
			continue
		}
		if ref, err := url.Parse(href); err == nil {
			href = base.ResolveReference(ref).String()
		}
		if !d.accept(href) || seen[href] {
			continue
		}
		seen[href] = true
		links = append(links, href)
	}
	return links, nil
}

func (d *Discoverer) accept(link string) bool {
	if !strings.HasPrefix(link, d.config.Prefix) {
		return false
	}
	for _, ex := range d.config.Exclude {
		if strings.Contains(link, ex) {
			return false
		}
	}
	return true
}
