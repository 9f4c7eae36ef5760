package cn

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"eodcollector/internal/util"
)

// Result pairs a symbol with the outcome of its fetch.
type Result struct {
	Symbol  string
	Outcome Outcome
}

// RunAPITier fetches every symbol with at most workers concurrent requests.
// Results arrive in completion order on the returned channel, exactly one
// per symbol, and the channel is closed once all workers are done. After ctx
// is cancelled the remaining symbols resolve as Transient without a request.
func RunAPITier(ctx context.Context, f BarFetcher, symbols []string, date string, workers int) <-chan Result {
	results := make(chan Result)
	jobs := make(chan string, len(symbols))
	for _, s := range symbols {
		jobs <- s
	}
	close(jobs)

	workers = max(1, min(workers, len(symbols)))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobs {
				var out Outcome
				if err := ctx.Err(); err != nil {
					out = transient(err)
				} else {
					out = f.FetchDailyBar(ctx, sym, date)
				}
				results <- Result{Symbol: sym, Outcome: out}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// PageFetch resolves one symbol on a given tier-2 session.
type PageFetch func(ctx context.Context, session int, symbol string) Outcome

// RunFallbackTier spreads symbols over sessions round-robin (symbol i goes
// to session i % sessions). Each session works through its share in order
// and waits on pacer after every symbol. Every symbol produces exactly one
// Result on out; out is not closed. It returns once all sessions finish.
func RunFallbackTier(ctx context.Context, symbols []string, sessions int, pacer util.Pacer, fetch PageFetch, out chan<- Result) error {
	sessions = max(1, min(sessions, len(symbols)))
	queues := make([][]string, sessions)
	for i, s := range symbols {
		queues[i%sessions] = append(queues[i%sessions], s)
	}

	g, gctx := errgroup.WithContext(ctx)
	for id, queue := range queues {
		id, queue := id, queue
		g.Go(func() error {
			// stopped is set once the session can no longer fetch; the rest
			// of its queue is reported transient.
			stopped := gctx.Err()
			for _, sym := range queue {
				if stopped == nil {
					stopped = gctx.Err()
				}
				if stopped != nil {
					out <- Result{Symbol: sym, Outcome: transient(stopped)}
					continue
				}
				out <- Result{Symbol: sym, Outcome: fetch(gctx, id, sym)}
				if err := pacer.Wait(gctx); err != nil {
					stopped = err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
