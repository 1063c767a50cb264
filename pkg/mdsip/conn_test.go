package mdsip_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmodtools/cmodparams/pkg/mdsip"
	"github.com/cmodtools/cmodparams/pkg/mdsip/mdsiptest"
)

func btorHandler(r *mdsiptest.Request) mdsiptest.Reply {
	switch r.Expr {
	case "TreeOpen($,$)":
		if r.Args[0].String() != "magnetics" {
			return mdsiptest.OK(int32(mdsiptest.StatusFileNotFound))
		}
		return mdsiptest.OK(int32(1))
	case `\MAGNETICS::BTOR`:
		return mdsiptest.OK([]float32{-5.4, -5.41, -5.39})
	case `dim_of(\MAGNETICS::BTOR)`:
		return mdsiptest.OK([]float64{0.0, 0.1, 0.2})
	default:
		return mdsiptest.Fail(mdsiptest.StatusNodeNotFound, "%TREE-W-NNF, Node Not Found")
	}
}

func dial(t *testing.T, addr string, opts ...mdsip.Option) *mdsip.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := mdsip.Dial(ctx, addr, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestDial_SendsUser(t *testing.T) {
	srv := mdsiptest.NewServer(btorHandler)
	defer srv.Close()

	dial(t, srv.Addr, mdsip.WithUser("pppl"))

	assert.Equal(t, []string{"pppl"}, srv.Logins())
}

func TestDial_LoginRejected(t *testing.T) {
	srv := mdsiptest.NewServer(btorHandler, mdsiptest.WithLoginStatus(0))
	defer srv.Close()

	_, err := mdsip.Dial(context.Background(), srv.Addr, mdsip.WithUser("nobody"))
	require.Error(t, err)

	var se *mdsip.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int32(0), se.Status)
}

func TestDial_Unreachable(t *testing.T) {
	srv := mdsiptest.NewServer(btorHandler)
	addr := srv.Addr
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := mdsip.Dial(ctx, addr)
	assert.Error(t, err)
}

func TestOpenTreeAndGet(t *testing.T) {
	srv := mdsiptest.NewServer(btorHandler)
	defer srv.Close()
	conn := dial(t, srv.Addr)
	ctx := context.Background()

	require.NoError(t, conn.OpenTree(ctx, "magnetics", 1160930033))

	v, err := conn.Get(ctx, `\MAGNETICS::BTOR`)
	require.NoError(t, err)
	assert.Equal(t, mdsip.DTypeFloat, v.DType)
	assert.Equal(t, []int{3}, v.Dims)

	data, err := v.Float64s()
	require.NoError(t, err)
	require.Len(t, data, 3)
	assert.InDelta(t, -5.41, data[1], 1e-6)

	tv, err := conn.Get(ctx, `dim_of(\MAGNETICS::BTOR)`)
	require.NoError(t, err)
	times, err := tv.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.0, 0.1, 0.2}, times)

	reqs := srv.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "magnetics", reqs[1].Tree)
	assert.Equal(t, 1160930033, reqs[1].Shot)
}

func TestOpenTree_BadStatus(t *testing.T) {
	srv := mdsiptest.NewServer(btorHandler)
	defer srv.Close()
	conn := dial(t, srv.Addr)

	err := conn.OpenTree(context.Background(), "nonexistent", 1)
	require.Error(t, err)

	var se *mdsip.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int32(mdsiptest.StatusFileNotFound), se.Status)
}

func TestOpenTree_ShotOutOfRange(t *testing.T) {
	srv := mdsiptest.NewServer(btorHandler)
	defer srv.Close()
	conn := dial(t, srv.Addr)

	err := conn.OpenTree(context.Background(), "magnetics", 1<<40)
	assert.Error(t, err)
	assert.Empty(t, srv.Requests())
}

func TestGet_ServerErrorCarriesMessage(t *testing.T) {
	srv := mdsiptest.NewServer(btorHandler)
	defer srv.Close()
	conn := dial(t, srv.Addr)

	_, err := conn.Get(context.Background(), `\MAGNETICS::NOPE`)
	require.Error(t, err)

	var se *mdsip.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int32(mdsiptest.StatusNodeNotFound), se.Status)
	assert.Contains(t, se.Message, "Node Not Found")
}

func TestGet_BigEndianReply(t *testing.T) {
	srv := mdsiptest.NewServer(btorHandler, mdsiptest.WithBigEndian())
	defer srv.Close()
	conn := dial(t, srv.Addr)
	ctx := context.Background()

	require.NoError(t, conn.OpenTree(ctx, "magnetics", 1))
	v, err := conn.Get(ctx, `dim_of(\MAGNETICS::BTOR)`)
	require.NoError(t, err)

	times, err := v.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.0, 0.1, 0.2}, times)
}

func TestGet_SendsArguments(t *testing.T) {
	srv := mdsiptest.NewServer(func(r *mdsiptest.Request) mdsiptest.Reply {
		return mdsiptest.OK(int32(len(r.Args)))
	})
	defer srv.Close()
	conn := dial(t, srv.Addr)

	v, err := conn.Get(context.Background(), "$+$", int32(2), 3.5)
	require.NoError(t, err)
	n, err := v.Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	req := srv.Requests()[0]
	assert.Equal(t, "$+$", req.Expr)
	a0, err := req.Args[0].Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(2), a0)
	a1, err := req.Args[1].Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{3.5}, a1)
}

func TestGet_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	srv := mdsiptest.NewServer(func(r *mdsiptest.Request) mdsiptest.Reply {
		<-block
		return mdsiptest.OK(int32(1))
	})
	defer srv.Close()
	defer close(block)
	conn := dial(t, srv.Addr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := conn.Get(ctx, "WAIT(10.)")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestMessage_HeaderLayout(t *testing.T) {
	m, err := mdsip.NewMessage([]float64{1, 2}, binary.LittleEndian)
	require.NoError(t, err)
	m.NArgs, m.DescriptorIdx, m.MessageID = 3, 1, 7

	var buf bytes.Buffer
	require.NoError(t, mdsip.WriteMessage(&buf, m))
	raw := buf.Bytes()

	require.Len(t, raw, 48+16)
	assert.Equal(t, uint32(64), binary.LittleEndian.Uint32(raw[0:]))
	assert.Equal(t, uint16(8), binary.LittleEndian.Uint16(raw[8:]))
	assert.Equal(t, []byte{3, 1, 7, byte(mdsip.DTypeDouble), 0x02, 1}, raw[10:16])
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(raw[16:]))

	back, err := mdsip.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	vals, err := back.Value().Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, vals)
}

func TestValue_IntegerArrays(t *testing.T) {
	m, err := mdsip.NewMessage([]int32{-1, 0, 7}, binary.BigEndian)
	require.NoError(t, err)

	vals, err := m.Value().Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 0, 7}, vals)
}

func TestValue_StringIsNotNumeric(t *testing.T) {
	m, err := mdsip.NewMessage("hello", binary.LittleEndian)
	require.NoError(t, err)

	_, err = m.Value().Float64s()
	assert.ErrorIs(t, err, mdsip.ErrUnsupportedDType)
	assert.Equal(t, "hello", m.Value().String())
}

func TestValue_ShortBody(t *testing.T) {
	v := (&mdsip.Message{DType: mdsip.DTypeDouble, Length: 8, Dims: []int32{4}, Body: make([]byte, 16)}).Value()
	_, err := v.Float64s()
	assert.Error(t, err)
}

func TestGet_CompressedReplyRejected(t *testing.T) {
	srv := mdsiptest.NewServer(btorHandler, mdsiptest.WithReplyFlags(0x20))
	defer srv.Close()
	conn := dial(t, srv.Addr)

	_, err := conn.Get(context.Background(), `\MAGNETICS::BTOR`)
	assert.ErrorIs(t, err, mdsip.ErrCompressed)
}

// rawDoubleReply builds a little-endian double reply header declaring dims
// followed by body.
func rawDoubleReply(dims []uint32, body []byte) []byte {
	raw := make([]byte, 48, 48+len(body))
	binary.LittleEndian.PutUint32(raw[0:], uint32(48+len(body)))
	binary.LittleEndian.PutUint32(raw[4:], 1)
	binary.LittleEndian.PutUint16(raw[8:], 8)
	raw[13] = byte(mdsip.DTypeDouble)
	raw[14] = 0x02
	raw[15] = byte(len(dims))
	for i, d := range dims {
		binary.LittleEndian.PutUint32(raw[16+4*i:], d)
	}
	return append(raw, body...)
}

func TestReadMessage_NegativeDimension(t *testing.T) {
	_, err := mdsip.ReadMessage(bytes.NewReader(rawDoubleReply([]uint32{0xFFFFFFFF}, make([]byte, 8))))
	assert.Error(t, err)
}

func TestValue_BadShapes(t *testing.T) {
	tests := []struct {
		name string
		dims []int32
		body int
	}{
		{"negative dimension", []int32{-1}, 8},
		{"negative after positive", []int32{2, -3}, 16},
		{"product overflows", []int32{1 << 30, 1 << 30, 1 << 30}, 64},
		{"scalar without body", nil, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := (&mdsip.Message{DType: mdsip.DTypeDouble, Length: 8, Dims: tc.dims, Body: make([]byte, tc.body)}).Value()
			require.NotPanics(t, func() {
				_, err := v.Float64s()
				assert.Error(t, err)
			})
		})
	}
}

func TestValue_ZeroLengthArray(t *testing.T) {
	v := (&mdsip.Message{DType: mdsip.DTypeDouble, Length: 8, Dims: []int32{0}}).Value()
	vals, err := v.Float64s()
	require.NoError(t, err)
	assert.Empty(t, vals)
}
