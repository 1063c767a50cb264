package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cmodtools/cmodparams/pkg/cmod"
	"github.com/cmodtools/cmodparams/pkg/cmod/cmodtest"
	"github.com/cmodtools/cmodparams/pkg/mdsip"
	"github.com/cmodtools/cmodparams/pkg/plasma"
)

const testShot = 1160930033

func newTestScraper(t *testing.T, shot cmodtest.Shot) Scraper {
	t.Helper()
	srv := cmodtest.NewServer(map[int]cmodtest.Shot{testShot: shot})
	t.Cleanup(srv.Close)

	s, err := New(cmod.New(srv.Addr))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestScrape_AllSignals(t *testing.T) {
	s := newTestScraper(t, cmodtest.Typical())

	res, err := s.Scrape(context.Background(), testShot)
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if res.Err != nil {
		t.Fatalf("res.Err = %v", res.Err)
	}
	if res.Shot != testShot {
		t.Errorf("Shot = %d, want %d", res.Shot, testShot)
	}
	if len(res.Errors) != 0 {
		t.Errorf("Errors = %v, want none", res.Errors)
	}
	for _, name := range cmod.Signals() {
		sig, ok := res.Signals[name]
		if !ok {
			t.Errorf("Signals[%q] missing", name)
			continue
		}
		if sig.Len() != 11 {
			t.Errorf("Signals[%q].Len() = %d, want 11", name, sig.Len())
		}
	}
	if got := res.Signals[cmod.SignalToroidalField].Data[0]; got != 5.4 {
		t.Errorf("btor[0] = %v, want 5.4 (negated)", got)
	}
}

func TestScrape_MissingDensityIsPartial(t *testing.T) {
	shot := cmodtest.Typical()
	delete(shot, cmod.LineAveragedDensityPath)
	s := newTestScraper(t, shot)

	res, err := s.Scrape(context.Background(), testShot)
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if res.Err != nil {
		t.Errorf("res.Err = %v, want nil (current is still available)", res.Err)
	}
	nerr, ok := res.Errors[cmod.SignalLineAveragedDensity]
	if !ok {
		t.Fatalf("Errors[nebar] missing")
	}
	var se *mdsip.ServerError
	if !errors.As(nerr, &se) {
		t.Errorf("Errors[nebar] = %v, want *mdsip.ServerError", nerr)
	}
	if _, ok := res.Signals[cmod.SignalLineAveragedDensity]; ok {
		t.Error("nebar present in both Signals and Errors")
	}
}

func TestScrape_MissingCurrentSetsErr(t *testing.T) {
	shot := cmodtest.Typical()
	delete(shot, cmod.PlasmaCurrentPath)
	s := newTestScraper(t, shot)

	res, err := s.Scrape(context.Background(), testShot)
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if res.Err == nil {
		t.Fatal("res.Err = nil, want plasma current failure")
	}
}

func TestScrape_UnknownShot(t *testing.T) {
	s := newTestScraper(t, cmodtest.Typical())

	res, err := s.Scrape(context.Background(), 42)
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if res.Err == nil {
		t.Error("res.Err = nil, want failure for unknown shot")
	}
	if len(res.Errors) != len(cmod.Signals()) {
		t.Errorf("Errors len = %d, want %d", len(res.Errors), len(cmod.Signals()))
	}
}

func TestScrape_CancelledContext(t *testing.T) {
	s := newTestScraper(t, cmodtest.Typical())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Scrape(ctx, testShot); !errors.Is(err, context.Canceled) {
		t.Errorf("Scrape() error = %v, want context.Canceled", err)
	}
}

func TestNew_Subset(t *testing.T) {
	srv := cmodtest.NewServer(map[int]cmodtest.Shot{testShot: cmodtest.Typical()})
	defer srv.Close()

	s, err := New(cmod.New(srv.Addr), cmod.SignalToroidalField)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	res, err := s.Scrape(context.Background(), testShot)
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if len(res.Signals) != 1 {
		t.Errorf("Signals len = %d, want 1", len(res.Signals))
	}
	if res.Err != nil {
		t.Errorf("res.Err = %v, want nil when current is not requested", res.Err)
	}
}

func TestNew_UnknownSignal(t *testing.T) {
	if _, err := New(cmod.New("localhost"), "te"); err == nil {
		t.Fatal("New() with unknown signal: expected error")
	}
}

// fakeFetcher serves accessors from a map, bypassing the network.
type fakeFetcher map[string]cmod.Accessor

func (f fakeFetcher) Lookup(name string) (cmod.Accessor, error) {
	fn, ok := f[name]
	if !ok {
		return nil, errors.New("unknown signal " + name)
	}
	return fn, nil
}

func TestScrape_FailedSignalDoesNotCancelOthers(t *testing.T) {
	slow := func(ctx context.Context, shot int) (plasma.Signal, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return plasma.Signal{Time: []float64{0, 1}, Data: []float64{1, 1}}, nil
		case <-ctx.Done():
			return plasma.Signal{}, ctx.Err()
		}
	}
	fail := func(ctx context.Context, shot int) (plasma.Signal, error) {
		return plasma.Signal{}, errors.New("node not found")
	}
	s, err := New(fakeFetcher{
		cmod.SignalPlasmaCurrent:       fail,
		cmod.SignalLineAveragedDensity: slow,
	}, cmod.SignalPlasmaCurrent, cmod.SignalLineAveragedDensity)
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Scrape(context.Background(), testShot)
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if _, ok := res.Signals[cmod.SignalLineAveragedDensity]; !ok {
		t.Errorf("nebar missing, errors = %v", res.Errors)
	}
	if res.Err == nil {
		t.Error("Err = nil, want plasma current failure")
	}
}

func TestScrape_CancelledMidFetch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	block := func(ctx context.Context, shot int) (plasma.Signal, error) {
		<-ctx.Done()
		return plasma.Signal{}, ctx.Err()
	}
	cancelling := func(context.Context, int) (plasma.Signal, error) {
		cancel()
		return plasma.Signal{}, errors.New("interrupted")
	}
	s, err := New(fakeFetcher{
		cmod.SignalPlasmaCurrent: block,
		cmod.SignalToroidalField: cancelling,
	}, cmod.SignalPlasmaCurrent, cmod.SignalToroidalField)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Scrape(ctx, testShot); !errors.Is(err, context.Canceled) {
		t.Errorf("Scrape() error = %v, want context.Canceled", err)
	}
}
