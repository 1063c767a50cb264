// Package compute derives per-shot plasma quantities from raw scraper output.
//
// greenwald.go provides the pure Compute(Input) function: the Greenwald
// density limit n_G = I_p / (π a²) and the fraction n / n_G, in 10^20 m^-3.
//
// engine.go provides the stateful Engine that averages each signal over the
// shot's window, converts units, and tracks fetch availability over the last
// 20 scrapes of each shot. Engine.Process accepts an injectable time.Time so
// tests are deterministic.
//
// Result states: complete (every quantity derived), partial (current known,
// something else missing), failed (no plasma current).
package compute
