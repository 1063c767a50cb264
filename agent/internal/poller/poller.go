package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cmodtools/cmodparams/agent/internal/compute"
	"github.com/cmodtools/cmodparams/agent/internal/config"
	"github.com/cmodtools/cmodparams/agent/internal/scraper"
	"github.com/cmodtools/cmodparams/pkg/plasma"
)

// Target is one shot to summarise.
type Target struct {
	Shot        int
	Window      plasma.Window
	MinorRadius float64
}

// TargetsFrom resolves the per-shot windows and radii of an agent config.
func TargetsFrom(a config.AgentConfig) []Target {
	out := make([]Target, 0, len(a.Shots))
	for _, s := range a.Shots {
		out = append(out, Target{
			Shot:        s.Shot,
			Window:      a.WindowFor(s),
			MinorRadius: a.MinorRadiusFor(s),
		})
	}
	return out
}

// Shots returns the shot numbers of ts.
func Shots(ts []Target) []int {
	out := make([]int, len(ts))
	for i, t := range ts {
		out[i] = t.Shot
	}
	return out
}

// ResultHandler receives every derived result.
type ResultHandler interface {
	HandleResult(res *compute.Result)
}

// ResultHandlerFunc is a function adapter for ResultHandler.
type ResultHandlerFunc func(*compute.Result)

func (f ResultHandlerFunc) HandleResult(res *compute.Result) { f(res) }

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // time between cycles
	Concurrency int           // shots scraped in parallel
	Timeout     time.Duration // per-shot scrape timeout; 0 means none
}

// Stats summarises one poll cycle.
type Stats struct {
	Shots    int
	Complete int64
	Partial  int64
	Failed   int64
	Duration time.Duration
}

// Poller periodically scrapes every target shot.
type Poller struct {
	cfg     Config
	scraper scraper.Scraper
	engine  *compute.Engine
	handler ResultHandler
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	targets []Target
	onCycle func(Stats)
}

// New creates a Poller. A nil logger uses slog.Default().
func New(cfg Config, s scraper.Scraper, e *compute.Engine, h ResultHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Poller{
		cfg:     cfg,
		scraper: s,
		engine:  e,
		handler: h,
		logger:  logger,
		now:     time.Now,
	}
}

// SetTargets replaces the shots polled from the next cycle on.
func (p *Poller) SetTargets(ts []Target) {
	p.mu.Lock()
	p.targets = append([]Target(nil), ts...)
	p.mu.Unlock()
	p.engine.Forget(Shots(ts))
}

// Targets returns a copy of the current target list.
func (p *Poller) Targets() []Target {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Target(nil), p.targets...)
}

// OnCycle registers fn to run after every completed cycle.
func (p *Poller) OnCycle(fn func(Stats)) {
	p.mu.Lock()
	p.onCycle = fn
	p.mu.Unlock()
}

// Run polls immediately, then every interval, until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller: started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller: stopped")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce scrapes every target once and returns the cycle's stats. A
// cancelled ctx stops the cycle early; results already produced are kept.
func (p *Poller) PollOnce(ctx context.Context) Stats {
	start := p.now()
	targets := p.Targets()
	stats := Stats{Shots: len(targets)}
	if len(targets) == 0 {
		p.logger.Debug("poller: no shots configured")
		return stats
	}

	var complete, partial, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, t := range targets {
		if gctx.Err() != nil {
			break
		}
		t := t
		g.Go(func() error {
			res, err := p.pollShot(gctx, t)
			if err != nil {
				return err
			}
			switch res.State {
			case compute.StateComplete:
				complete.Add(1)
			case compute.StatePartial:
				partial.Add(1)
			default:
				failed.Add(1)
			}
			if p.handler != nil {
				p.handler.HandleResult(res)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Warn("poller: cycle interrupted", "err", err)
	}

	stats.Complete, stats.Partial, stats.Failed = complete.Load(), partial.Load(), failed.Load()
	stats.Duration = p.now().Sub(start)
	p.logger.Info("poller: cycle complete",
		"shots", stats.Shots,
		"complete", stats.Complete,
		"partial", stats.Partial,
		"failed", stats.Failed,
		"duration", stats.Duration,
	)

	p.mu.RLock()
	fn := p.onCycle
	p.mu.RUnlock()
	if fn != nil {
		fn(stats)
	}
	return stats
}

// pollShot scrapes and derives a single shot. Only a cancelled parent ctx is
// returned as an error; everything else becomes a failed Result.
func (p *Poller) pollShot(ctx context.Context, t Target) (*compute.Result, error) {
	sctx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	res, err := p.scraper.Scrape(sctx, t.Shot)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// The per-shot timeout expired: record it as a failed fetch.
		res = &scraper.ScrapeResult{Shot: t.Shot, ScrapedAt: p.now().UTC(), Err: err}
	}
	out := p.engine.Process(res, t.Window, t.MinorRadius, p.now())
	p.logger.Debug("poller: shot processed",
		"shot", t.Shot,
		"state", out.State,
		"greenwald_fraction", out.GreenwaldFraction,
	)
	return out, nil
}
