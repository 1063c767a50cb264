// Package poller runs the serve command's fetch cycle.
//
// Every interval (and once at start) the Poller scrapes each configured shot
// with bounded concurrency, turns the scrape into a compute.Result and hands
// it to a ResultHandler. The target list can be replaced at any time, which
// is how a config hot-reload takes effect.
package poller
