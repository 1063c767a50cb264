// Package ws streams per-shot results to WebSocket clients.
//
// Two events are sent, both with the GET /api/v1/snapshot schema as data:
//
//	{"event": "snapshot", "data": {...}}  every live shot, on connect and each tick
//	{"event": "shots",    "data": {...}}  shots refreshed by the last poll cycle
//
// The serve command marks each result with Hub.Mark as it is stored and calls
// Hub.Flush after every poll cycle. A client connecting with
// /ws/stream?shot=1160930033,1160930034 only receives those shots.
package ws
