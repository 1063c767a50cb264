// Package mdsiptest runs an in-process mdsip server for tests, in the spirit of
// net/http/httptest. Requests are answered by a HandlerFunc.
package mdsiptest

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/cmodtools/cmodparams/pkg/mdsip"
)

// Status words used by the fake server.
const (
	StatusOK = 1

	// StatusNodeNotFound is the MDSplus TreeNNF code.
	StatusNodeNotFound = 265388128

	// StatusFileNotFound is the MDSplus TreeFILE_NOT_FOUND code.
	StatusFileNotFound = 265392034
)

// Request is one decoded expression evaluation.
type Request struct {
	Expr string
	Args []*mdsip.Value

	// Tree and Shot are the tree most recently opened on this connection.
	Tree string
	Shot int
}

// Reply is the server's answer. Value may be any type accepted by
// mdsip.NewMessage.
type Reply struct {
	Status int32
	Value  any
}

// OK returns a successful reply carrying v.
func OK(v any) Reply { return Reply{Status: StatusOK, Value: v} }

// Fail returns a failed reply with the given status and message text.
func Fail(status int32, msg string) Reply { return Reply{Status: status, Value: msg} }

// HandlerFunc answers one request.
type HandlerFunc func(r *Request) Reply

// Option configures a Server.
type Option func(*Server)

// WithBigEndian makes the server encode replies in big-endian order.
func WithBigEndian() Option {
	return func(s *Server) { s.order = binary.BigEndian }
}

// WithLoginStatus sets the status returned to login messages.
func WithLoginStatus(status int32) Option {
	return func(s *Server) { s.loginStatus = status }
}

// WithReplyFlags ORs flags into the client type byte of every answer after
// login, e.g. 0x20 to mark replies as compressed.
func WithReplyFlags(flags uint8) Option {
	return func(s *Server) { s.replyFlags = flags }
}

// Server is a fake mdsip server listening on a loopback address.
type Server struct {
	// Addr is the host:port to dial.
	Addr string

	ln          net.Listener
	handler     HandlerFunc
	order       binary.ByteOrder
	loginStatus int32
	replyFlags  uint8

	wg       sync.WaitGroup
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	logins   []string
	requests []Request
	closed   int
}

// NewServer starts a server answering with h. Call Close when done.
func NewServer(h HandlerFunc, opts ...Option) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("mdsiptest: listen: " + err.Error())
	}
	s := &Server{
		Addr:        ln.Addr().String(),
		ln:          ln,
		handler:     h,
		order:       binary.LittleEndian,
		loginStatus: StatusOK,
		conns:       make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.accept()
	return s
}

// Close stops the listener and drops every open connection.
func (s *Server) Close() {
	s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Logins returns the user names received so far.
func (s *Server) Logins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logins...)
}

// Requests returns every request received so far, in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// ActiveConns returns the number of connections the client has not yet closed.
func (s *Server) ActiveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ClosedConns returns the number of connections closed by the client.
func (s *Server) ClosedConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(c)
	}
}

func (s *Server) serve(c net.Conn) {
	defer s.wg.Done()
	defer func() {
		c.Close()
		s.mu.Lock()
		delete(s.conns, c)
		s.closed++
		s.mu.Unlock()
	}()

	login, err := mdsip.ReadMessage(c)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.logins = append(s.logins, string(login.Body))
	s.mu.Unlock()
	if err := mdsip.WriteMessage(c, &mdsip.Message{Status: s.loginStatus, ClientType: s.clientType()}); err != nil {
		return
	}

	var tree string
	var shot int
	for {
		first, err := mdsip.ReadMessage(c)
		if err != nil {
			return
		}
		req := Request{Expr: string(first.Body), Tree: tree, Shot: shot}
		for i := 1; i < int(first.NArgs); i++ {
			arg, err := mdsip.ReadMessage(c)
			if err != nil {
				return
			}
			req.Args = append(req.Args, arg.Value())
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		reply := s.handler(&req)
		if req.Expr == "TreeOpen($,$)" && reply.Status&1 == 1 && len(req.Args) == 2 {
			if st, ok := reply.Value.(int32); !ok || st&1 == 1 {
				tree = req.Args[0].String()
				n, _ := req.Args[1].Int64()
				shot = int(n)
			}
		}

		m, err := s.encode(reply)
		if err != nil {
			m, _ = mdsip.NewMessage(err.Error(), s.order)
			m.Status = 0
		}
		m.MessageID = first.MessageID
		m.ClientType |= s.replyFlags
		if err := mdsip.WriteMessage(c, m); err != nil {
			return
		}
	}
}

func (s *Server) encode(r Reply) (*mdsip.Message, error) {
	v := r.Value
	if v == nil {
		v = int32(r.Status)
	}
	m, err := mdsip.NewMessage(v, s.order)
	if err != nil {
		return nil, err
	}
	m.Status = r.Status
	return m, nil
}

func (s *Server) clientType() uint8 {
	m, _ := mdsip.NewMessage(int32(0), s.order)
	return m.ClientType
}
