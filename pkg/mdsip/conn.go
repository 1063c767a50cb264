package mdsip

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// DefaultPort is the mdsip service port used when the address has none.
const DefaultPort = 8000

// ErrCompressed is returned when the server answers with a compressed body.
// The client never advertises compression, so this indicates a misbehaving peer.
var ErrCompressed = errors.New("mdsip: compressed reply not supported")

// ServerError is an odd-status failure reported by the server, such as a
// missing tree or node. Message is the server's own text when it sent one.
type ServerError struct {
	Status  int32
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mdsip: server status %d", e.Status)
	}
	return fmt.Sprintf("mdsip: %s (status %d)", e.Message, e.Status)
}

// ContextDialer opens network connections. *net.Dialer satisfies it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type options struct {
	user    string
	dialer  ContextDialer
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures Dial.
type Option func(*options)

// WithUser sets the login name sent to the server. Defaults to $USER.
func WithUser(user string) Option {
	return func(o *options) { o.user = user }
}

// WithDialer replaces the network dialer.
func WithDialer(d ContextDialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithTimeout bounds each request/answer exchange when the context carries no
// deadline of its own. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger sets the logger used for connection-level debug output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Conn is a logged-in connection to an mdsip server.
//
// Requests on one Conn are serialised; Conn is safe for concurrent use but
// offers no parallelism. Open one Conn per goroutine for that.
type Conn struct {
	nc      net.Conn
	addr    string
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	msgID uint8
}

// Dial connects to the mdsip server at addr (host or host:port) and logs in.
// The caller must Close the returned Conn.
func Dial(ctx context.Context, addr string, opts ...Option) (*Conn, error) {
	o := options{
		user:   os.Getenv("USER"),
		dialer: &net.Dialer{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.user == "" {
		o.user = "cmodparams"
	}

	hostport := withDefaultPort(addr)
	nc, err := o.dialer.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("mdsip: dial %s: %w", hostport, err)
	}

	c := &Conn{
		nc:      nc,
		addr:    hostport,
		timeout: o.timeout,
		logger:  o.logger,
	}
	if err := c.login(ctx, o.user); err != nil {
		nc.Close()
		return nil, err
	}
	c.logger.Debug("mdsip: connected", "addr", hostport, "user", o.user)
	return c, nil
}

// Close releases the network connection.
func (c *Conn) Close() error {
	c.logger.Debug("mdsip: closing", "addr", c.addr)
	return c.nc.Close()
}

// Addr returns the host:port the connection was dialed with.
func (c *Conn) Addr() string { return c.addr }

// OpenTree opens tree at the given shot for subsequent Get calls on this Conn.
func (c *Conn) OpenTree(ctx context.Context, tree string, shot int) error {
	if shot < math.MinInt32 || shot > math.MaxInt32 {
		return fmt.Errorf("mdsip: shot %d out of range", shot)
	}
	v, err := c.Get(ctx, "TreeOpen($,$)", tree, int32(shot))
	if err != nil {
		return fmt.Errorf("mdsip: open tree %s shot %d: %w", tree, shot, err)
	}
	status, err := v.Int64()
	if err != nil {
		return fmt.Errorf("mdsip: open tree %s shot %d: status: %w", tree, shot, err)
	}
	if status&1 == 0 {
		return fmt.Errorf("mdsip: open tree %s shot %d: %w", tree, shot,
			&ServerError{Status: int32(status), Message: "TreeOpen failed"})
	}
	return nil
}

// Get evaluates a TDI expression on the server. Each $ in expr is replaced by
// the corresponding argument; see NewMessage for the accepted argument types.
func (c *Conn) Get(ctx context.Context, expr string, args ...any) (*Value, error) {
	nargs := 1 + len(args)
	if nargs > math.MaxUint8 {
		return nil, fmt.Errorf("mdsip: %d arguments exceeds protocol limit", len(args))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stop := c.arm(ctx)
	defer stop()

	c.msgID++
	all := append([]any{expr}, args...)
	for i, a := range all {
		m, err := NewMessage(a, binary.LittleEndian)
		if err != nil {
			return nil, err
		}
		m.NArgs = uint8(nargs)
		m.DescriptorIdx = uint8(i)
		m.MessageID = c.msgID
		if err := WriteMessage(c.nc, m); err != nil {
			return nil, c.ioErr(ctx, err)
		}
	}

	reply, err := ReadMessage(c.nc)
	if err != nil {
		return nil, c.ioErr(ctx, err)
	}
	if reply.ClientType&flagCompressed != 0 {
		return nil, ErrCompressed
	}

	v := reply.Value()
	if reply.Status&1 == 0 {
		se := &ServerError{Status: reply.Status}
		if v.DType == DTypeCString {
			se.Message = v.String()
		}
		return nil, se
	}
	return v, nil
}

// login sends the user name and checks the server accepted it.
func (c *Conn) login(ctx context.Context, user string) error {
	stop := c.arm(ctx)
	defer stop()

	m, err := NewMessage(user, binary.LittleEndian)
	if err != nil {
		return fmt.Errorf("mdsip: login: %w", err)
	}
	m.ClientType = clientSendCapabilities
	m.NArgs = 1

	if err := WriteMessage(c.nc, m); err != nil {
		return fmt.Errorf("mdsip: login: %w", c.ioErr(ctx, err))
	}
	reply, err := ReadMessage(c.nc)
	if err != nil {
		return fmt.Errorf("mdsip: login: %w", c.ioErr(ctx, err))
	}
	if reply.Status&1 == 0 {
		return fmt.Errorf("mdsip: login as %q rejected: %w", user, &ServerError{Status: reply.Status})
	}
	return nil
}

// arm applies the context deadline (or the default timeout) to the socket and
// interrupts blocked I/O if ctx is cancelled. The returned func disarms it.
func (c *Conn) arm(ctx context.Context) func() {
	deadline, ok := ctx.Deadline()
	if !ok && c.timeout > 0 {
		deadline, ok = time.Now().Add(c.timeout), true
	}
	if ok {
		_ = c.nc.SetDeadline(deadline)
	}
	stopAfter := context.AfterFunc(ctx, func() {
		_ = c.nc.SetDeadline(time.Now())
	})
	return func() {
		stopAfter()
		_ = c.nc.SetDeadline(time.Time{})
	}
}

// ioErr prefers the context error when cancellation caused the I/O failure.
func (c *Conn) ioErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%v)", ctxErr, err)
	}
	// The socket deadline can fire a moment before the context timer does.
	if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
		return fmt.Errorf("%w (%v)", context.DeadlineExceeded, err)
	}
	return err
}

func withDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
}
