package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const onvistaDefaultBaseURL = "https://www.onvista.de"

// Derivative quotes are scraped from the onvista search page, which lists
// the bid ("Geld") price for the instrument. Quotes are EUR.
var (
	onvistaBidPattern = regexp.MustCompile(`(?i)Geld[\s:]*(\d{1,4}[,\.]\d{2,4})`)
	onvistaEURPattern = regexp.MustCompile(`(\d{1,4}[,\.]\d{2,4})\s*EUR`)
)

// Onvista fetches derivative prices by ISIN.
type Onvista struct {
	client  *Client
	baseURL string
}

var _ DerivativePricer = (*Onvista)(nil)

// NewOnvista creates an onvista client. baseURL may be empty for the
// public site.
func NewOnvista(client *Client, baseURL string) *Onvista {
	if baseURL == "" {
		baseURL = onvistaDefaultBaseURL
	}
	return &Onvista{client: client, baseURL: baseURL}
}

func (o *Onvista) Name() string { return "onvista" }

func (o *Onvista) DerivativePrice(ctx context.Context, isin string) (Quote, error) {
	header := http.Header{}
	header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	body, err := o.client.Get(ctx, o.Name(), fmt.Sprintf("%s/suche/?searchValue=%s", o.baseURL, url.QueryEscape(isin)), header)
	if err != nil {
		return Quote{}, err
	}

	page := string(body)
	if !strings.Contains(page, isin) {
		return Quote{}, fmt.Errorf("onvista: %s not on result page: %w", isin, ErrNoQuote)
	}

	price, ok := extractOnvistaPrice(page)
	if !ok {
		return Quote{}, fmt.Errorf("onvista: no price for %s: %w", isin, ErrNoQuote)
	}
	return Quote{Price: price, Currency: "EUR", Source: o.Name()}, nil
}

func extractOnvistaPrice(page string) (float64, bool) {
	for _, pattern := range []*regexp.Regexp{onvistaBidPattern, onvistaEURPattern} {
		match := pattern.FindStringSubmatch(page)
		if match == nil {
			continue
		}
		price, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", "."), 64)
		if err != nil {
			continue
		}
		// Guard against parsing page chrome as a price.
		if price >= 0.001 && price <= 100000 {
			return price, true
		}
	}
	return 0, false
}
