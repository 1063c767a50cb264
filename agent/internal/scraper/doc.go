// Package scraper fetches every C-Mod signal the agent tracks for one shot.
// Each Scrape call dials the data server once per signal (the accessors own
// their connections) and returns a ScrapeResult holding the raw signals plus
// any per-signal failures. The compute engine averages and derives the
// Greenwald quantities from these results.
//
// New(Fetcher) takes anything that can look up a signal accessor by name; in
// production that is a *cmod.Client, in tests a cmod client pointed at a
// cmodtest server.
package scraper
