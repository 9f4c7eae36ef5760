package cn

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"eodcollector/internal/calendar"
	"eodcollector/internal/domain"
	"eodcollector/internal/gather"
	"eodcollector/internal/ops/debug"
	"eodcollector/internal/report"
	"eodcollector/internal/store"
	"eodcollector/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface check
// ---------------------------------------------------------------------------

var _ gather.Gatherer = (*Collector)(nil)

// Fatal run conditions. They abort the run instead of producing a normal
// summary.
var (
	ErrTradingDayNoData = errors.New("trading day produced no data")
	ErrCoverage         = errors.New("trading day requires full success with zero missing and failed")
)

// SkipNonTradingDay is the skip_reason of a non-trading-day summary.
const SkipNonTradingDay = "non_trading_day"

// Store is what one run needs from the status store.
type Store interface {
	store.StatusStore
	store.BarReader
	Path() string
	Close() error
}

// PageFetcher is the tier-2 fetcher.
type PageFetcher interface {
	FetchDailyBar(ctx context.Context, s *Session, symbol, date string) Outcome
}

// Notifier delivers the final summary. It handles its own failures.
type Notifier interface {
	Notify(ctx context.Context, s *report.Summary, missing []string)
}

// Backuper snapshots the run artifacts and prunes old snapshots.
type Backuper interface {
	Create(date string, files []string) (string, error)
	Cleanup(now time.Time) error
}

// Collector runs the end-of-day pipeline for one trade date: universe,
// calendar gate, tier-1 API fetch, tier-2 page fallback, summary, alerting
// and the post-run sinks.
type Collector struct {
	Universe  SymbolSource
	Calendar  calendar.Oracle
	OpenStore func(ctx context.Context) (Store, error)
	API       BarFetcher
	Pages     PageFetcher
	Sessions  []*Session

	Workers    int
	Pacer      util.Pacer
	Thresholds report.Thresholds
	Rules      report.Rules
	Runner     string

	Summaries *report.Writer
	Debug     *debug.Writer

	// Optional sinks; nil disables them.
	Notifier Notifier
	CSV      *store.CSVExporter
	Archive  store.BarArchive
	Backup   Backuper

	// Today returns the trade date Run collects.
	Today func() string

	log *slog.Logger
}

// Name returns the gatherer identifier.
func (c *Collector) Name() string { return "cn-daily" }

// Run collects today's date. The summary level is logged; errors are fatal
// conditions or crashes.
func (c *Collector) Run(ctx context.Context) error {
	date := time.Now().Format(domain.DateLayout)
	if c.Today != nil {
		date = c.Today()
	}
	s, err := c.RunAfterClose(ctx, date)
	if err != nil {
		return err
	}
	c.logger().Info("run finished", "date", date, "level", s.Level)
	return nil
}

func (c *Collector) logger() *slog.Logger {
	if c.log == nil {
		c.log = slog.Default().With("gatherer", c.Name())
	}
	return c.log
}

// RunAfterClose is the crash-safe entry point. A non-trading day yields a
// skip summary. Any failure still leaves an exception debug bundle and a
// degraded summary for the date before the error is returned.
func (c *Collector) RunAfterClose(ctx context.Context, date string) (*report.Summary, error) {
	log := c.logger()

	isTrading, err := c.Calendar.IsTradingDay(ctx, date)
	if err != nil {
		err = fmt.Errorf("checking trading day: %w", err)
		c.recordCrash(date, nil, err)
		return nil, err
	}
	if !isTrading {
		log.Info("not a trading day, writing skip summary", "date", date)
		s := report.SkipSummary(date, SkipNonTradingDay, c.Runner)
		if _, err := c.Summaries.Write(s); err != nil {
			return nil, fmt.Errorf("writing skip summary: %w", err)
		}
		return s, nil
	}

	s, err := c.collect(ctx, date, isTrading)
	if err != nil {
		c.recordCrash(date, &isTrading, err)
		return nil, err
	}
	return s, nil
}

func (c *Collector) recordCrash(date string, isTrading *bool, cause error) {
	log := c.logger()
	log.Error("pipeline crashed", "date", date, "error", cause)

	c.writeBundle(debug.Bundle{
		TargetDate:   date,
		Stage:        debug.StageException,
		IsTradingDay: isTrading,
		FirstError:   &debug.FirstError{Type: "exception", Exception: cause.Error()},
		Note:         "pipeline crashed before producing summary",
	})
	s := report.SkipSummary(date, "exception:"+cause.Error(), c.Runner)
	if _, err := c.Summaries.Write(s); err != nil {
		log.Error("writing crash summary failed", "date", date, "error", err)
	}
}

// Collect runs the pipeline for date without the crash wrapper.
func (c *Collector) Collect(ctx context.Context, date string) (*report.Summary, error) {
	isTrading, err := c.Calendar.IsTradingDay(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("checking trading day: %w", err)
	}
	return c.collect(ctx, date, isTrading)
}

// ShouldCollect reports whether date still needs a run: it is a trading day
// and its stored summary is absent, empty, CRITICAL or incomplete.
func (c *Collector) ShouldCollect(ctx context.Context, date string) (bool, error) {
	isTrading, err := c.Calendar.IsTradingDay(ctx, date)
	if err != nil {
		return false, err
	}
	if !isTrading {
		return false, nil
	}

	s, err := c.Summaries.Load(date)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return true, nil
	}
	switch {
	case s.IsEmpty(),
		s.Level == domain.LevelCritical,
		s.Failed > 0,
		s.Missing > 0,
		s.Success < s.Expected:
		return true, nil
	}
	return false, nil
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

func (c *Collector) collect(ctx context.Context, date string, isTrading bool) (*report.Summary, error) {
	log := c.logger().With("date", date)
	start := time.Now()

	c.writeBundle(debug.Bundle{TargetDate: date, Stage: debug.StageStart, IsTradingDay: &isTrading, Note: "pipeline started"})

	symbols, err := c.Universe.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading universe: %w", err)
	}
	c.writeBundle(debug.Bundle{TargetDate: date, Stage: debug.StageSymbolsLoaded, IsTradingDay: &isTrading, TotalSymbols: len(symbols), Note: "symbols loaded"})
	c.writeBundle(debug.Bundle{TargetDate: date, Stage: debug.StageTradingDay, IsTradingDay: &isTrading, TotalSymbols: len(symbols), Note: "trading day decided"})

	st, err := c.OpenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	t := newTally()
	todo, err := c.prepass(ctx, st, t, symbols, date)
	if err != nil {
		return nil, err
	}
	log.Info("pre-pass done", "symbols", len(symbols), "todo", len(todo))

	fastPath := len(todo) == 0
	if !fastPath {
		retry, err := c.runAPITier(ctx, st, t, todo, date)
		if err != nil {
			return nil, err
		}
		if len(retry) > 0 {
			log.Info("falling back to quote pages", "symbols", len(retry))
			if err := c.runPageTier(ctx, st, t, retry, date); err != nil {
				return nil, err
			}
		}
	}

	n := t.counts()
	c.writeBundle(debug.Bundle{
		TargetDate: date, Stage: debug.StageAfterFetch, IsTradingDay: &isTrading,
		TotalSymbols: len(symbols), SuccessCount: n.success, MissingCount: n.missing, FailedCount: n.failed,
		FirstError: t.first, Note: "fetch finished",
	})

	if err := c.gate(date, isTrading, len(symbols), n, t); err != nil {
		return nil, err
	}

	rate := report.SuccessRate(n.success, len(symbols))
	base := report.ComputeLevel(rate, 0, c.Thresholds)
	if fastPath {
		base = domain.LevelInfo
	}
	s, err := report.Build(report.Input{
		Date:         date,
		Expected:     len(symbols),
		Success:      n.success,
		Failed:       n.failed,
		Missing:      n.missing,
		Skipped:      n.skipped,
		RetrySuccess: t.retrySuccess,
		Duration:     time.Since(start),
		Runner:       c.Runner,
		Level:        base,
		Errors:       t.errors,
	})
	if err != nil {
		return nil, err
	}
	if !fastPath {
		s.HumanRequired = report.HumanRequired(s, c.Rules)
	}

	history, err := c.Summaries.History(date)
	if err != nil {
		log.Warn("reading summary history failed", "error", err)
	}
	streak := report.ConsecutiveErrorDays(report.Levels(history))
	s.Level = report.Escalate(base, streak, c.Thresholds)

	summaryPath, err := c.Summaries.Write(s)
	if err != nil {
		return nil, fmt.Errorf("writing summary: %w", err)
	}
	log.Info("summary written",
		"level", s.Level,
		"success", s.Success, "missing", s.Missing, "skipped", s.Skipped, "failed", s.Failed,
		"retry_success", s.RetrySuccess, "human_required", s.HumanRequired,
	)

	c.finish(ctx, st, t, s, symbols, summaryPath)
	return s, nil
}

// prepass resolves symbols already collected for date and returns the rest
// in universe order.
func (c *Collector) prepass(ctx context.Context, st Store, t *tally, symbols []string, date string) ([]string, error) {
	existing, err := st.FetchStatuses(ctx, date)
	if err != nil {
		return nil, err
	}

	var todo []string
	for _, sym := range symbols {
		if t.terminal(sym) {
			continue
		}
		if s, ok := existing[sym]; ok && s.Status == domain.StatusSuccess {
			t.record(sym, domain.StatusSuccess, "")
			continue
		}
		has, err := st.HasBar(ctx, sym, date)
		if err != nil {
			return nil, err
		}
		if has {
			if err := c.setStatus(ctx, st, t, sym, date, domain.StatusSuccess, 0, ""); err != nil {
				return nil, err
			}
			continue
		}
		todo = append(todo, sym)
	}
	return todo, nil
}

// runAPITier drains tier-1 results on the calling goroutine and returns the
// symbols that need the fallback tier.
func (c *Collector) runAPITier(ctx context.Context, st Store, t *tally, todo []string, date string) ([]string, error) {
	var (
		retry    []string
		storeErr error
	)
	for r := range RunAPITier(ctx, c.API, todo, date, c.Workers) {
		if storeErr != nil {
			continue
		}
		requeue, err := c.applyAPI(ctx, st, t, r, date)
		if err != nil {
			storeErr = err
			continue
		}
		if requeue {
			retry = append(retry, r.Symbol)
		}
	}
	if storeErr != nil {
		return nil, storeErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return retry, nil
}

func (c *Collector) applyAPI(ctx context.Context, st Store, t *tally, r Result, date string) (bool, error) {
	o := r.Outcome
	switch o.Kind {
	case OutcomeSuccess:
		return false, c.storeBar(ctx, st, t, o.Bar, 0, false)
	case OutcomeMissing:
		return false, c.setStatus(ctx, st, t, r.Symbol, date, domain.StatusMissing, 0, o.ErrorText())
	case OutcomeSuspended:
		return false, c.setStatus(ctx, st, t, r.Symbol, date, domain.StatusSkipped, 0, o.ErrorText())
	case OutcomeInvalid:
		return false, c.setStatus(ctx, st, t, r.Symbol, date, domain.StatusFailed, 0, o.ErrorText())
	default:
		if err := c.setStatus(ctx, st, t, r.Symbol, date, domain.StatusAPIFailed, 0, o.ErrorText()); err != nil {
			return false, err
		}
		return true, nil
	}
}

// runPageTier resolves the tier-1 leftovers on the paced quote-page
// sessions. Store reads and writes stay on the calling goroutine; sessions
// only fetch.
func (c *Collector) runPageTier(ctx context.Context, st Store, t *tally, symbols []string, date string) error {
	// A bar stored since tier 1 resolves the symbol without a page load.
	var pending []string
	for _, sym := range symbols {
		has, err := st.HasBar(ctx, sym, date)
		if err != nil {
			return err
		}
		if has {
			if err := c.setStatus(ctx, st, t, sym, date, domain.StatusSuccess, 1, ""); err != nil {
				return err
			}
			continue
		}
		pending = append(pending, sym)
	}
	if len(pending) == 0 {
		return nil
	}

	sessions := c.Sessions
	if len(sessions) == 0 {
		var err error
		if sessions, err = NewSessions(1, 25*time.Second); err != nil {
			return err
		}
	}

	fetch := func(ctx context.Context, session int, sym string) Outcome {
		return c.Pages.FetchDailyBar(ctx, sessions[session], sym, date)
	}

	results := make(chan Result)
	done := make(chan error, 1)
	go func() {
		done <- RunFallbackTier(ctx, pending, len(sessions), c.Pacer, fetch, results)
		close(results)
	}()

	var storeErr error
	for r := range results {
		if storeErr != nil {
			continue
		}
		storeErr = c.applyPage(ctx, st, t, r, date)
	}
	if err := <-done; err != nil {
		return err
	}
	return storeErr
}

func (c *Collector) applyPage(ctx context.Context, st Store, t *tally, r Result, date string) error {
	o := r.Outcome
	switch o.Kind {
	case OutcomeSuccess:
		return c.storeBar(ctx, st, t, o.Bar, 1, true)
	case OutcomeSuspended:
		return c.setStatus(ctx, st, t, r.Symbol, date, domain.StatusSkipped, 1, o.ErrorText())
	case OutcomeMissing:
		return c.setStatus(ctx, st, t, r.Symbol, date, domain.StatusMissing, 1, o.ErrorText())
	default:
		return c.setStatus(ctx, st, t, r.Symbol, date, domain.StatusFailed, 1, o.ErrorText())
	}
}

// storeBar writes a validated bar unless one already exists for its key,
// then marks the symbol successful.
func (c *Collector) storeBar(ctx context.Context, st Store, t *tally, bar domain.DailyBar, retries int, fallback bool) error {
	if t.terminal(bar.Symbol) {
		return nil
	}
	has, err := st.HasBar(ctx, bar.Symbol, bar.TradeDate)
	if err != nil {
		return err
	}
	if !has {
		if err := st.UpsertBar(ctx, bar); err != nil {
			return err
		}
	}
	if err := c.setStatus(ctx, st, t, bar.Symbol, bar.TradeDate, domain.StatusSuccess, retries, ""); err != nil {
		return err
	}
	if fallback {
		t.retrySuccess++
	}
	return nil
}

// setStatus persists and tallies one state transition. Terminal symbols are
// left untouched.
func (c *Collector) setStatus(ctx context.Context, st Store, t *tally, sym, date string, status domain.Status, retries int, errText string) error {
	if t.terminal(sym) {
		return nil
	}
	if err := st.UpsertStatus(ctx, domain.CollectStatus{
		Symbol:     sym,
		TradeDate:  date,
		Status:     status,
		RetryCount: retries,
		LastError:  errText,
	}); err != nil {
		return err
	}
	t.record(sym, status, errText)
	return nil
}

// gate enforces the trading-day coverage rules.
func (c *Collector) gate(date string, isTrading bool, expected int, n counts, t *tally) error {
	if !isTrading {
		return nil
	}
	var err error
	switch {
	case n.success == 0:
		err = fmt.Errorf("%w: %s", ErrTradingDayNoData, date)
	case n.success != expected || n.missing != 0 || n.failed != 0:
		err = fmt.Errorf("%w: total=%d success=%d missing=%d failed=%d",
			ErrCoverage, expected, n.success, n.missing, n.failed)
	default:
		return nil
	}
	c.writeBundle(debug.Bundle{
		TargetDate: date, Stage: debug.StageFatal, IsTradingDay: &isTrading,
		TotalSymbols: expected, SuccessCount: n.success, MissingCount: n.missing, FailedCount: n.failed,
		FirstError: t.first, Note: err.Error(),
	})
	return err
}

// ---------------------------------------------------------------------------
// Post-run sinks
// ---------------------------------------------------------------------------

// finish feeds the notification, export and backup sinks. None of them can
// fail the run.
func (c *Collector) finish(ctx context.Context, st Store, t *tally, s *report.Summary, symbols []string, summaryPath string) {
	log := c.logger().With("date", s.Date)

	if c.Notifier != nil {
		c.Notifier.Notify(ctx, s, t.withStatus(domain.StatusMissing))
	}

	if c.CSV != nil || c.Archive != nil {
		if err := c.export(ctx, st, s.Date, symbols); err != nil {
			log.Warn("export failed", "error", err)
		}
	}

	if c.Backup != nil {
		if dir, err := c.Backup.Create(s.Date, []string{st.Path(), summaryPath}); err != nil {
			log.Warn("backup failed", "error", err)
		} else {
			log.Info("backup written", "dir", dir)
		}
		if err := c.Backup.Cleanup(time.Now()); err != nil {
			log.Warn("backup cleanup failed", "error", err)
		}
	}
}

func (c *Collector) export(ctx context.Context, st Store, date string, symbols []string) error {
	bars, err := st.ReadBars(ctx, date)
	if err != nil {
		return err
	}

	if c.Archive != nil {
		if err := c.Archive.WriteBars(ctx, bars); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}

	if c.CSV != nil {
		bySymbol := make(map[string]*domain.DailyBar, len(bars))
		for i := range bars {
			bySymbol[bars[i].Symbol] = &bars[i]
		}
		for _, sym := range symbols {
			if err := c.CSV.WriteSymbol(date, sym, bySymbol[sym]); err != nil {
				return fmt.Errorf("csv %s: %w", sym, err)
			}
		}
		statuses, err := st.FetchStatuses(ctx, date)
		if err != nil {
			return err
		}
		if err := c.CSV.WriteSummary(date, statuses); err != nil {
			return fmt.Errorf("csv summary: %w", err)
		}
	}
	return nil
}

func (c *Collector) writeBundle(b debug.Bundle) {
	if c.Debug == nil {
		return
	}
	if _, err := c.Debug.Write(b); err != nil {
		c.logger().Warn("writing debug bundle failed", "stage", b.Stage, "error", err)
	}
}
