package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamctl/filterbridge/internal/supervisor"
	"github.com/beamctl/filterbridge/pkg/log"
)

// fakeConn is an in-memory Conn for adapter tests.
type fakeConn struct {
	mu       sync.Mutex
	sent     [][]byte
	sendErrs []error
	closed   bool

	inbound chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 64)}
}

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrConnClosed
	}
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return err
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-f.inbound:
		return data, nil
	}
}

func (f *fakeConn) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) sentCopy() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func startAdapter(t *testing.T, pattern Pattern, conn Conn) (*Adapter, *supervisor.Supervisor, context.CancelFunc) {
	t.Helper()

	sup := supervisor.New(log.NewNoopLogger())
	ctx, err := sup.Start(context.Background())
	require.NoError(t, err)

	dial := func(ctx context.Context) (Conn, error) { return conn, nil }
	a := NewAdapter("test", pattern, dial, sup, log.NewNoopLogger(), nil)
	a.backoffInitial = time.Millisecond
	a.backoffMax = 4 * time.Millisecond
	a.dialBackoff = NewBackoff(time.Millisecond, 4*time.Millisecond)
	require.NoError(t, a.Run(ctx))

	cancel := func() {
		sup.Stop("test done")
		_ = sup.Wait(time.Second)
	}
	return a, sup, cancel
}

func TestEnqueueOrderReachesWire(t *testing.T) {
	conn := newFakeConn()
	a, _, stop := startAdapter(t, RequestReply, conn)
	defer stop()

	var want [][]byte
	for i := 0; i < 20; i++ {
		cmd := []byte(fmt.Sprintf(`{"command":"cmd-%d"}`, i))
		want = append(want, cmd)
		a.Enqueue(cmd)
	}

	require.Eventually(t, func() bool {
		return len(conn.sentCopy()) == len(want)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, conn.sentCopy())
}

func TestEnqueueOnSubscribeChannelIsNoop(t *testing.T) {
	conn := newFakeConn()
	a, _, stop := startAdapter(t, Subscribe, conn)
	defer stop()

	a.Enqueue([]byte(`{"command":"status"}`))

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, conn.sentCopy())
	assert.Zero(t, a.Pending())
}

func TestReceiveDeliversInArrivalOrder(t *testing.T) {
	conn := newFakeConn()
	a, _, stop := startAdapter(t, Subscribe, conn)
	defer stop()

	for i := 0; i < 10; i++ {
		conn.inbound <- []byte(fmt.Sprintf("event-%d", i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 10; i++ {
		data, err := a.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("event-%d", i), string(data))
	}
}

func TestSendFailureDoesNotKillLoop(t *testing.T) {
	conn := newFakeConn()
	conn.sendErrs = []error{errors.New("transient write fault")}

	a, _, stop := startAdapter(t, RequestReply, conn)
	defer stop()

	a.Enqueue([]byte("first"))
	a.Enqueue([]byte("second"))

	// The first item is lost to the write fault; the loop must survive
	// and deliver the second.
	require.Eventually(t, func() bool {
		sent := conn.sentCopy()
		return len(sent) == 1 && string(sent[0]) == "second"
	}, time.Second, 5*time.Millisecond)
}

func TestRunIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	a, sup, stop := startAdapter(t, RequestReply, conn)
	defer stop()

	require.NoError(t, a.Run(context.Background()))
	assert.True(t, a.Running())
	assert.Equal(t, supervisor.StateRunning, sup.State())

	a.Enqueue([]byte("once"))
	require.Eventually(t, func() bool {
		return len(conn.sentCopy()) == 1
	}, time.Second, 5*time.Millisecond)

	// No duplicate send loop draining the same queue.
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, conn.sentCopy(), 1)
}

func TestCloseIsReentrant(t *testing.T) {
	conn := newFakeConn()
	a, _, stop := startAdapter(t, RequestReply, conn)
	defer stop()

	// Let the recv loop establish the connection first.
	conn.inbound <- []byte("hello")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := a.Receive(ctx)
	require.NoError(t, err)

	a.Close()
	a.Close()

	assert.False(t, a.Running())
	assert.True(t, conn.Closed())
}

func TestDialRetriesUntilSuccess(t *testing.T) {
	conn := newFakeConn()

	var mu sync.Mutex
	attempts := 0
	dial := func(ctx context.Context) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return nil, errors.New("peer unreachable")
		}
		return conn, nil
	}

	sup := supervisor.New(log.NewNoopLogger())
	ctx, err := sup.Start(context.Background())
	require.NoError(t, err)
	defer func() {
		sup.Stop("test done")
		_ = sup.Wait(time.Second)
	}()

	a := NewAdapter("test", RequestReply, dial, sup, log.NewNoopLogger(), nil)
	a.backoffInitial = time.Millisecond
	a.backoffMax = 2 * time.Millisecond
	a.dialBackoff = NewBackoff(time.Millisecond, 2*time.Millisecond)
	require.NoError(t, a.Run(ctx))

	a.Enqueue([]byte("eventually"))
	require.Eventually(t, func() bool {
		return len(conn.sentCopy()) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, attempts, 3)
}
