// Package auth provides API key authentication for the cmodparams serve
// HTTP surfaces.
//
// APIKey(mode, header, key) wraps an http.Handler. When mode != "apikey" or
// key == "", every request passes through (local use with auth disabled).
// Otherwise a request whose header value does not match key is answered with
// 401 and a JSON error body before reaching the wrapped handler.
package auth
