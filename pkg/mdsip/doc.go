// Package mdsip is a client for the MDSplus remote data access protocol.
//
// A session is one TCP connection (default port 8000) that starts with a login
// message carrying the user name. Each request is a TDI expression plus
// positional arguments, sent as one message per argument sharing a message id;
// the server answers with a single message whose header describes the result
// (dtype, element length, dimensions) and whose status word is odd on success.
//
//	conn, err := mdsip.Dial(ctx, "alcdata")
//	if err != nil { ... }
//	defer conn.Close()
//	if err := conn.OpenTree(ctx, "magnetics", shot); err != nil { ... }
//	v, err := conn.Get(ctx, `\MAGNETICS::BTOR`)
//	samples, err := v.Float64s()
//
// Message framing lives in message.go, result decoding in value.go. Replies are
// decoded in whichever byte order the server declares in the header's client
// type byte. Compression is never requested.
//
// Package mdsiptest provides an in-process fake server for tests.
package mdsip
