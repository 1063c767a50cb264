// Package exporter renders the latest per-shot results in the Prometheus
// exposition format at /metrics, so a Prometheus server can scrape Greenwald
// fractions next to the rest of the lab's telemetry.
//
// Every quantity is a gauge labelled by shot. Undefined (NaN) quantities are
// omitted rather than exported as NaN.
package exporter
