// Package plasma holds the Signal value type and the closed-form physics
// quantities computed from fetched signals: time-windowed averages, the
// Greenwald density limit and the Greenwald fraction.
//
// Every function is pure and works on slices already in memory.
package plasma
