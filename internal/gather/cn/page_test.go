package cn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"eodcollector/internal/domain"
)

const quotePage = `<html><body>
<div id="price">10.50</div>
<div id="change">0.30</div>
<div id="changeP">2.94%</div>
<div id="hqDetails"><table>
<tr><th>今开：</th><td>10.20</td><th>最高：</th><td>10.80</td></tr>
<tr><th>最低：</th><td>10.00</td><th>振幅：</th><td>7.84%</td></tr>
<tr><th>成交量：</th><td>1.2万手</td><th>成交额：</th><td>1.26亿</td></tr>
<tr><th>换手率：</th><td>0.45%</td><th>日期：</th><td>2025/03/14 15:00:00</td></tr>
</table></div>
</body></html>`

func parseHTML(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parsing fixture: %v", err)
	}
	return doc
}

func TestParseQuotePage(t *testing.T) {
	out := parseQuotePage(parseHTML(t, quotePage), "SH600000", testDate)
	if out.Kind != OutcomeSuccess {
		t.Fatalf("Kind = %v, want success (err %q)", out.Kind, out.ErrorText())
	}
	b := out.Bar
	if b.Open != 10.2 || b.High != 10.8 || b.Low != 10 || b.Close != 10.5 {
		t.Errorf("prices = %v/%v/%v/%v", b.Open, b.High, b.Low, b.Close)
	}
	if b.Change != 0.3 {
		t.Errorf("Change = %v, want 0.3", b.Change)
	}
	if b.ChangePct != 2.94 {
		t.Errorf("ChangePct = %v, want 2.94", b.ChangePct)
	}
	if b.AmplitudePct != 7.84 {
		t.Errorf("AmplitudePct = %v, want 7.84", b.AmplitudePct)
	}
	if b.TurnoverPct != 0.45 {
		t.Errorf("TurnoverPct = %v, want 0.45", b.TurnoverPct)
	}
	if b.Volume != 12000 {
		t.Errorf("Volume = %d, want %d", b.Volume, 12000)
	}
	if b.Amount == nil || *b.Amount != 126000000 {
		t.Errorf("Amount = %v, want 126000000", b.Amount)
	}
	if b.Source != domain.SourceDOM {
		t.Errorf("Source = %q, want %q", b.Source, domain.SourceDOM)
	}
}

func TestParseQuotePageZeroChange(t *testing.T) {
	flat := strings.NewReplacer(
		`<div id="change">0.30</div>`, `<div id="change">0.00</div>`,
		`<div id="changeP">2.94%</div>`, `<div id="changeP">0.00%</div>`,
	).Replace(quotePage)
	out := parseQuotePage(parseHTML(t, flat), "SH600000", testDate)
	if out.Kind != OutcomeSuccess {
		t.Fatalf("Kind = %v, want success (err %q)", out.Kind, out.ErrorText())
	}
	if out.Bar.Change != 0 || out.Bar.ChangePct != 0 {
		t.Errorf("Change/ChangePct = %v/%v, want the page's 0/0", out.Bar.Change, out.Bar.ChangePct)
	}

	// Placeholder or absent figures fall back to close - open.
	blank := strings.NewReplacer(
		`<div id="change">0.30</div>`, `<div id="change">--</div>`,
		`<div id="changeP">2.94%</div>`, ``,
	).Replace(quotePage)
	out = parseQuotePage(parseHTML(t, blank), "SH600000", testDate)
	if out.Bar.Change != 0.3 {
		t.Errorf("Change = %v, want derived 0.3", out.Bar.Change)
	}
	if out.Bar.ChangePct == 0 {
		t.Error("ChangePct = 0, want the derived percentage")
	}
}

func TestParseQuotePageSuspended(t *testing.T) {
	out := parseQuotePage(parseHTML(t, `<div id="closed">停牌</div><div id="price">0</div>`), "SH600000", testDate)
	if out.Kind != OutcomeSuspended {
		t.Fatalf("Kind = %v, want suspended", out.Kind)
	}
	if out.ErrorText() != ReasonSuspended {
		t.Errorf("ErrorText = %q, want %q", out.ErrorText(), ReasonSuspended)
	}
}

func TestParseQuotePageNoPrice(t *testing.T) {
	out := parseQuotePage(parseHTML(t, `<div>captcha</div>`), "SH600000", testDate)
	if out.Kind != OutcomeTransient {
		t.Fatalf("Kind = %v, want transient", out.Kind)
	}
}

func TestParseQuotePageDates(t *testing.T) {
	stale := strings.Replace(quotePage, "2025/03/14", "2025/03/13", 1)
	if out := parseQuotePage(parseHTML(t, stale), "SH600000", testDate); out.Reason != ReasonDOMDateStale {
		t.Errorf("stale page: Reason = %q, want %q", out.Reason, ReasonDOMDateStale)
	}

	undated := strings.Replace(quotePage, "日期：", "时间：", 1)
	if out := parseQuotePage(parseHTML(t, undated), "SH600000", testDate); out.Reason != ReasonDOMMissing {
		t.Errorf("undated page: Reason = %q, want %q", out.Reason, ReasonDOMMissing)
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"10.50", 10.5},
		{"1,234.5", 1234.5},
		{"2.94%", 2.94},
		{"3.5万", 35000},
		{"1.26亿", 126000000},
		{"800手", 800},
		{"--", 0},
		{"", 0},
		{"n/a", 0},
		{" 12.3 ", 12.3},
	}
	for _, tt := range tests {
		if got := parseNumber(tt.in).InexactFloat64(); got != tt.want {
			t.Errorf("parseNumber(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeDate(t *testing.T) {
	if got := normalizeDate("2025/03/14 15:00:00"); got != "2025-03-14" {
		t.Errorf("normalizeDate = %q, want %q", got, "2025-03-14")
	}
}

func TestQuotePageClientFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sh600000/nc.shtml") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("User-Agent = %q, want %q", r.Header.Get("User-Agent"), "test-agent")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(quotePage))
	}))
	defer srv.Close()

	sessions, err := NewSessions(1, 5*time.Second)
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	c := &QuotePageClient{URLTemplate: srv.URL + "/%s/nc.shtml", UserAgent: "test-agent"}

	out := c.FetchDailyBar(context.Background(), sessions[0], "SH600000", testDate)
	if out.Kind != OutcomeSuccess {
		t.Fatalf("Kind = %v, want success (err %q)", out.Kind, out.ErrorText())
	}

	out = c.FetchDailyBar(context.Background(), sessions[0], "SZ000001", testDate)
	if out.Kind != OutcomeTransient {
		t.Errorf("404 page: Kind = %v, want transient", out.Kind)
	}
}
