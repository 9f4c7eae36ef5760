package cn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"eodcollector/internal/domain"
	"eodcollector/internal/ops/debug"
	"eodcollector/internal/util"
)

const (
	apiAttempts = 3
	apiBackoff  = 200 * time.Millisecond
)

// BarFetcher resolves one symbol for one date. Implementations never touch
// the store.
type BarFetcher interface {
	FetchDailyBar(ctx context.Context, symbol, date string) Outcome
}

// APIClient is the tier-1 fetcher for the structured kline endpoint.
type APIClient struct {
	baseURL string
	http    *http.Client
	limiter *util.RateLimiter
	debug   *debug.Writer
	log     *slog.Logger
}

// Compile-time interface check.
var _ BarFetcher = (*APIClient)(nil)

// NewAPIClient creates an APIClient. rateLimitPerMin of zero disables
// pacing; dbg may be nil.
func NewAPIClient(baseURL string, timeout time.Duration, rateLimitPerMin int, dbg *debug.Writer) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		limiter: util.NewRateLimiter(rateLimitPerMin),
		debug:   dbg,
		log:     slog.Default().With("tier", "api"),
	}
}

// klineParams builds the query for a single most-recent daily bar.
func klineParams(symbol string) map[string]string {
	return map[string]string{
		"symbol":  strings.ToLower(symbol),
		"scale":   "240",
		"ma":      "no",
		"datalen": "1",
	}
}

// FetchDailyBar asks the kline endpoint for the latest daily bar of symbol
// and checks it belongs to date.
func (c *APIClient) FetchDailyBar(ctx context.Context, symbol, date string) Outcome {
	params := klineParams(symbol)
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	reqURL := c.baseURL + "?" + q.Encode()

	if err := c.limiter.Wait(ctx); err != nil {
		return transient(err)
	}

	var (
		status int
		body   []byte
	)
	err := util.Retry(ctx, apiAttempts, apiBackoff, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return util.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if status < 200 || status > 299 {
			return util.Permanent(fmt.Errorf("kline %s: HTTP %d", symbol, status))
		}
		return nil
	})
	if err != nil {
		c.recordFirstError(symbol, params, status, body, err)
		return transient(err)
	}

	out := parseKline(body, symbol, date)
	if out.Kind == OutcomeTransient || out.Kind == OutcomeMissing {
		c.recordFirstError(symbol, params, status, body, errors.New(out.ErrorText()))
	}
	return out
}

func (c *APIClient) recordFirstError(symbol string, params map[string]string, status int, body []byte, cause error) {
	if c.debug == nil {
		return
	}
	raw := debug.RawError{
		Symbol:    symbol,
		URL:       c.baseURL,
		Params:    params,
		Exception: cause.Error(),
	}
	if status != 0 {
		raw.StatusCode = &status
	}
	if body != nil {
		text := string(body)
		raw.ResponseText = &text
	}
	if _, err := c.debug.WriteRawFirstError(raw); err != nil {
		c.log.Warn("writing raw first error failed", "error", err)
	}
}

// requiredFields must be present and non-blank for a bar to count.
var requiredFields = []string{"open", "high", "low", "close", "volume"}

// parseKline turns the endpoint payload into an Outcome.
func parseKline(body []byte, symbol, date string) Outcome {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		// The endpoint answers "null" for unknown symbols.
		if strings.TrimSpace(string(body)) == "null" {
			return missing(ReasonAPIMissing)
		}
		return transient(fmt.Errorf("decoding kline %s: %w", symbol, err))
	}
	if len(rows) == 0 {
		return missing(ReasonAPIMissing)
	}

	row := rows[0]
	if field(row, "day") != date {
		return missing(ReasonAPIMissing)
	}
	vals := make(map[string]decimal.Decimal, len(requiredFields))
	for _, k := range requiredFields {
		text := field(row, k)
		if text == "" || text == "--" {
			return missing(ReasonAPIMissing)
		}
		d, err := decimal.NewFromString(text)
		if err != nil {
			return transient(fmt.Errorf("kline %s field %s=%q: %w", symbol, k, text, err))
		}
		vals[k] = d
	}

	bar := derivedBar(symbol, date, vals["open"], vals["high"], vals["low"], vals["close"])
	bar.Volume = vals["volume"].IntPart()
	if text := field(row, "amount"); text != "" {
		if d, err := decimal.NewFromString(text); err == nil {
			v := d.InexactFloat64()
			bar.Amount = &v
		}
	}
	bar.Source = domain.SourceAPI
	return checked(bar)
}

// derivedBar fills the price fields and the figures computed from them.
func derivedBar(symbol, date string, open, high, low, close decimal.Decimal) domain.DailyBar {
	hundred := decimal.NewFromInt(100)
	change := close.Sub(open)

	bar := domain.DailyBar{
		Symbol:    symbol,
		TradeDate: date,
		Open:      open.InexactFloat64(),
		High:      high.InexactFloat64(),
		Low:       low.InexactFloat64(),
		Close:     close.InexactFloat64(),
		Change:    change.InexactFloat64(),
		PriceType: domain.PriceTypeRaw,
		UpdatedAt: domain.NowISO(),
	}
	if !open.IsZero() {
		bar.ChangePct = change.Div(open).Mul(hundred).InexactFloat64()
		bar.AmplitudePct = high.Sub(low).Div(open).Mul(hundred).InexactFloat64()
	}
	return bar
}

// field returns a payload value as text; absent or null values are empty.
func field(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
