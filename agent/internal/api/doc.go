// Package api implements the JSON REST API of cmodparams serve.
//
// New(store, alerts) returns an http.Handler that serves:
//
//	GET /api/v1/health        overall state and per-state shot counts
//	GET /api/v1/shots         all live shots ([]ShotResponse)
//	GET /api/v1/shots/{shot}  single shot; 404 if unknown or stale
//	GET /api/v1/alerts        firing and recently resolved alerts
//	GET /api/v1/snapshot      all live shots + generated_at
//
// All endpoints respond with Content-Type: application/json and return 405
// for non-GET methods. Quantities that could not be derived (NaN) are
// rendered as null.
package api
