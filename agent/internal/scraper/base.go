package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cmodtools/cmodparams/pkg/cmod"
	"github.com/cmodtools/cmodparams/pkg/plasma"
)

// Fetcher resolves a signal name to its accessor. *cmod.Client implements it.
type Fetcher interface {
	Lookup(name string) (cmod.Accessor, error)
}

// ScrapeResult is the raw output of one scrape of a single shot.
// Signals and Errors are keyed by the cmod signal name ("ip", "nebar", ...);
// a name appears in exactly one of the two maps.
type ScrapeResult struct {
	Shot      int
	ScrapedAt time.Time

	Signals map[string]plasma.Signal
	Errors  map[string]error

	// Err is non-nil when the plasma current could not be fetched. Without it
	// no Greenwald quantity can be derived and the compute engine marks the
	// shot failed.
	Err error
}

// Scraper fetches the tracked signals of a shot.
type Scraper interface {
	Scrape(ctx context.Context, shot int) (*ScrapeResult, error)
}

// New returns a Scraper that fetches names from f, defaulting to every
// signal cmod knows about.
func New(f Fetcher, names ...string) (Scraper, error) {
	if len(names) == 0 {
		names = cmod.Signals()
	}
	accessors := make(map[string]cmod.Accessor, len(names))
	for _, name := range names {
		fn, err := f.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("scraper: %w", err)
		}
		accessors[name] = fn
	}
	return &shotScraper{accessors: accessors}, nil
}

type shotScraper struct {
	accessors map[string]cmod.Accessor
}

// Scrape fetches all signals concurrently. A signal failure is recorded in
// Errors and returns nil from its goroutine, so it never cancels the other
// fetches. Only a cancelled ctx aborts the group, and it is the returned error.
func (s *shotScraper) Scrape(ctx context.Context, shot int) (*ScrapeResult, error) {
	res := newResult(shot)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for name, fetch := range s.accessors {
		name, fetch := name, fetch
		g.Go(func() error {
			sig, err := fetch(gctx, shot)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Debug("scraper: signal unavailable", "shot", shot, "signal", name, "err", err)
				res.Errors[name] = err
				return nil
			}
			res.Signals[name] = sig
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scraper: shot %d: %w", shot, err)
	}

	if _, ok := s.accessors[cmod.SignalPlasmaCurrent]; ok {
		if err, failed := res.Errors[cmod.SignalPlasmaCurrent]; failed {
			res.Err = fmt.Errorf("plasma current: %w", err)
		}
	}
	return res, nil
}

// newResult initialises an empty ScrapeResult with both maps allocated.
func newResult(shot int) *ScrapeResult {
	return &ScrapeResult{
		Shot:      shot,
		ScrapedAt: time.Now().UTC(),
		Signals:   make(map[string]plasma.Signal),
		Errors:    make(map[string]error),
	}
}
