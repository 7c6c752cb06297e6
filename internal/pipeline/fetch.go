package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// chartResponse mirrors the chart endpoint's JSON envelope
// ({"chart":{"result":[...],"error":...}}).
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Symbol           string `json:"symbol"`
		ExchangeTimezone string `json:"exchangeTimezoneName"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []quoteBlock `json:"quote"`
	} `json:"indicators"`
}

// quoteBlock carries parallel arrays indexed like Timestamp. Entries may be
// null for half-days and suspended sessions, hence the pointers.
type quoteBlock struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}

// fetchChart retrieves the daily chart for one ticker over the configured
// window.
func (s *Service) fetchChart(ctx context.Context, ticker string) (*chartResult, error) {
	base := strings.TrimRight(s.cfg.BaseURL, "/")
	u := base + "/" + url.PathEscape(ticker) +
		"?interval=1d&range=" + strconv.Itoa(s.cfg.WindowDays) + "d"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "marketpipe/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a little of the body for the error message; servers tend to
		// return a JSON error document.
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("chart request for %s: status %d: %s", ticker, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var cr chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("chart decode for %s: %w", ticker, err)
	}
	if cr.Chart.Error != nil {
		return nil, fmt.Errorf("chart error for %s: %s: %s", ticker, cr.Chart.Error.Code, cr.Chart.Error.Description)
	}
	if len(cr.Chart.Result) == 0 {
		return nil, nil
	}
	return &cr.Chart.Result[0], nil
}

// resultLocation resolves the exchange timezone a result's timestamps should
// be bucketed in. Falls back to UTC so a missing zone never shifts rows
// across machines.
func resultLocation(r *chartResult) *time.Location {
	if r == nil || r.Meta.ExchangeTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Meta.ExchangeTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
