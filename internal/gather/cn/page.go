package cn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html/charset"

	"eodcollector/internal/domain"
)

// Session is one tier-2 browsing identity: its own HTTP client and cookie
// jar. A session is used by a single goroutine at a time.
type Session struct {
	ID     int
	client *http.Client
}

// NewSessions creates n independent sessions.
func NewSessions(n int, timeout time.Duration) ([]*Session, error) {
	out := make([]*Session, n)
	for i := range out {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		out[i] = &Session{ID: i, client: &http.Client{Timeout: timeout, Jar: jar}}
	}
	return out, nil
}

// QuotePageClient is the tier-2 fetcher: it reads the public quote page of
// a symbol.
type QuotePageClient struct {
	// URLTemplate has one %s verb for the lower-case symbol.
	URLTemplate string
	UserAgent   string
}

// FetchDailyBar loads the quote page of symbol on session s.
func (c *QuotePageClient) FetchDailyBar(ctx context.Context, s *Session, symbol, date string) Outcome {
	pageURL := fmt.Sprintf(c.URLTemplate, strings.ToLower(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return transient(err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return transient(fmt.Errorf("page load failed: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return transient(fmt.Errorf("page load failed: HTTP %d", resp.StatusCode))
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return transient(fmt.Errorf("page decode failed: %w", err))
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return transient(fmt.Errorf("page parse failed: %w", err))
	}
	return parseQuotePage(doc, symbol, date)
}

// parseQuotePage reads the price block and the details table of a loaded
// quote page.
func parseQuotePage(doc *goquery.Document, symbol, date string) Outcome {
	if doc.Find("#closed").Length() > 0 {
		return suspended()
	}
	priceSel := doc.Find("#price")
	if priceSel.Length() == 0 {
		return transient(errors.New("page parse failed: no #price element"))
	}

	details := detailsTable(doc)
	pageDate := normalizeDate(pick(details, "日期"))
	if pageDate == "" {
		return missing(ReasonDOMMissing)
	}
	if pageDate != date {
		return missing(ReasonDOMDateStale)
	}

	priceText := clean(priceSel.Text())
	price := parseNumber(priceText)

	open := firstNonZero(parseNumber(pick(details, "今开", "开盘")), price)
	high := firstNonZero(parseNumber(pick(details, "最高", "最高价")), open)
	low := firstNonZero(parseNumber(pick(details, "最低", "最低价")), open)
	closePx := firstNonZero(price, parseNumber(pick(details, "收盘", "最新价")), open)

	bar := derivedBar(symbol, date, open, high, low, closePx)
	// The page reports its own change figures; prefer them when present,
	// zero included.
	if v, ok := parseFigure(doc.Find("#change").Text()); ok {
		bar.Change = v.InexactFloat64()
	}
	if v, ok := parseFigure(doc.Find("#changeP").Text()); ok {
		bar.ChangePct = v.InexactFloat64()
	}
	if v, ok := parseFigure(pick(details, "振幅")); ok {
		bar.AmplitudePct = v.InexactFloat64()
	}
	bar.TurnoverPct = parseNumber(pick(details, "换手率")).InexactFloat64()
	bar.Volume = parseNumber(pick(details, "成交量", "总成交量")).Round(0).IntPart()
	if amount := parseNumber(pick(details, "成交额", "总成交额")); !amount.IsZero() {
		v := amount.InexactFloat64()
		bar.Amount = &v
	}
	bar.Source = domain.SourceDOM
	return checked(bar)
}

// detailsTable flattens the key/value cells of the details table. Cells are
// read pairwise across th and td in document order.
func detailsTable(doc *goquery.Document) map[string]string {
	kv := make(map[string]string)
	doc.Find("#hqDetails table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("th, td")
		for i := 0; i+1 < cells.Length(); i += 2 {
			key := clean(cells.Eq(i).Text())
			if key != "" {
				kv[key] = clean(cells.Eq(i + 1).Text())
			}
		}
	})
	return kv
}

var cleaner = strings.NewReplacer("\u00a0", "", "\u3000", " ", "：", "", ":", "")

func clean(s string) string {
	return strings.TrimSpace(cleaner.Replace(s))
}

func pick(kv map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := kv[k]; v != "" {
			return v
		}
	}
	return ""
}

func normalizeDate(s string) string {
	s = strings.ReplaceAll(clean(s), "/", "-")
	if len(s) > 10 {
		s = s[:10]
	}
	return s
}

var (
	wan     = decimal.NewFromInt(10_000)
	yi      = decimal.NewFromInt(100_000_000)
	unitCut = strings.NewReplacer(",", "", "%", "", "手", "", "股", "", "万", "", "亿", "")
)

// parseNumber reads a page figure, honouring the 万 and 亿 multipliers.
// Blank, placeholder and malformed text parse as zero.
func parseNumber(s string) decimal.Decimal {
	d, _ := parseFigure(s)
	return d
}

// parseFigure is parseNumber that also reports whether the text held a
// figure at all, so a reported zero can be told apart from a blank cell.
func parseFigure(s string) (decimal.Decimal, bool) {
	t := clean(s)
	if t == "" || t == "--" || t == "-" {
		return decimal.Zero, false
	}
	mult := decimal.NewFromInt(1)
	switch {
	case strings.Contains(t, "亿"):
		mult = yi
	case strings.Contains(t, "万"):
		mult = wan
	}
	d, err := decimal.NewFromString(strings.TrimSpace(unitCut.Replace(t)))
	if err != nil {
		return decimal.Zero, false
	}
	return d.Mul(mult), true
}

func firstNonZero(vals ...decimal.Decimal) decimal.Decimal {
	for _, v := range vals {
		if !v.IsZero() {
			return v
		}
	}
	return decimal.Zero
}
