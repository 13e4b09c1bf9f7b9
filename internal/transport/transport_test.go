package transport

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var inprocSeq atomic.Int64

func inprocAddr() string {
	return fmt.Sprintf("inproc://transport-test-%d", inprocSeq.Add(1))
}

func freeTCPAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "tcp://" + addr
}

// publishUntil keeps publishing msg until stop is closed, so the first
// message is not lost while the subscriber's pipe is still attaching.
func publishUntil(p Publisher, msg []byte, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		_ = p.Publish(msg)
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	for name, addr := range map[string]string{"inproc": inprocAddr(), "tcp": freeTCPAddr(t)} {
		t.Run(name, func(t *testing.T) {
			tctx := NewContext(DefaultOptions(), nil)
			pub, err := tctx.Publish(addr)
			require.NoError(t, err)
			defer pub.Close()

			sub, err := tctx.Subscribe(addr)
			require.NoError(t, err)
			defer sub.Close()

			stop := make(chan struct{})
			defer close(stop)
			go publishUntil(pub, []byte{1, 2, 3, 4}, stop)

			got, err := sub.Receive()
			require.NoError(t, err)
			assert.Equal(t, []byte{1, 2, 3, 4}, got)
			assert.Equal(t, addr, sub.Address())
		})
	}
}

func TestCloseUnblocksReceive(t *testing.T) {
	tctx := NewContext(DefaultOptions(), nil)
	addr := inprocAddr()
	pub, err := tctx.Publish(addr)
	require.NoError(t, err)
	defer pub.Close()
	sub, err := tctx.Subscribe(addr)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Receive()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sub.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrEndpointClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not return after close")
	}

	_, err = sub.Receive()
	assert.ErrorIs(t, err, ErrEndpointClosed)
	assert.ErrorIs(t, sub.Close(), ErrEndpointClosed)
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	tctx := NewContext(DefaultOptions(), nil)
	pub, err := tctx.Publish(freeTCPAddr(t))
	require.NoError(t, err)
	defer pub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		payload := make([]byte, 8192)
		for i := 0; i < 5000; i++ {
			_ = pub.Publish(payload)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	tctx := NewContext(DefaultOptions(), nil)
	pub, err := tctx.Publish(inprocAddr())
	require.NoError(t, err)
	require.NoError(t, pub.Close())
	assert.ErrorIs(t, pub.Publish([]byte{1}), ErrEndpointClosed)
}

func TestBindFailure(t *testing.T) {
	tctx := NewContext(DefaultOptions(), nil)
	addr := freeTCPAddr(t)
	first, err := tctx.Publish(addr)
	require.NoError(t, err)
	defer first.Close()

	_, err = tctx.Publish(addr)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBind)
	var be *BindError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, addr, be.Address)

	_, err = tctx.Publish("localhost:5555")
	assert.ErrorIs(t, err, ErrBind)
	assert.ErrorIs(t, err, ErrUnsupportedScheme)

	assert.Equal(t, 1, tctx.Live())
}

func TestConnectFailure(t *testing.T) {
	tctx := NewContext(DefaultOptions(), nil)
	_, err := tctx.Subscribe(freeTCPAddr(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnect)

	_, err = tctx.Subscribe("udp://127.0.0.1:1")
	assert.ErrorIs(t, err, ErrConnect)
	assert.ErrorIs(t, err, ErrUnsupportedScheme)

	assert.False(t, tctx.Active())
	assert.Equal(t, 0, tctx.Live())
}

func TestAsyncDialToleratesLatePublisher(t *testing.T) {
	opts := DefaultOptions()
	opts.DialAsync = true
	tctx := NewContext(opts, nil)
	addr := freeTCPAddr(t)

	sub, err := tctx.Subscribe(addr)
	require.NoError(t, err)
	defer sub.Close()

	pub, err := tctx.Publish(addr)
	require.NoError(t, err)
	defer pub.Close()

	stop := make(chan struct{})
	defer close(stop)
	go publishUntil(pub, []byte("late"), stop)

	got, err := sub.Receive()
	require.NoError(t, err)
	assert.Equal(t, "late", string(got))
}

func TestContextLifecycle(t *testing.T) {
	tctx := NewContext(Options{}, nil)
	assert.False(t, tctx.Active())
	assert.Equal(t, 16, tctx.Options().RecvQueue)

	addr := inprocAddr()
	pub, err := tctx.Publish(addr)
	require.NoError(t, err)
	sub, err := tctx.Subscribe(addr)
	require.NoError(t, err)
	assert.True(t, tctx.Active())
	assert.Equal(t, 2, tctx.Live())
	assert.Equal(t, 1, tctx.Inits())

	require.NoError(t, sub.Close())
	assert.True(t, tctx.Active())
	require.NoError(t, pub.Close())
	assert.False(t, tctx.Active())
	assert.Equal(t, 0, tctx.Live())

	again, err := tctx.Publish(inprocAddr())
	require.NoError(t, err)
	assert.Equal(t, 2, tctx.Inits())
	require.NoError(t, tctx.Close())
	assert.False(t, tctx.Active())
	assert.ErrorIs(t, again.Publish(nil), ErrEndpointClosed)
}

func TestSlowSubscriberKeepsOrder(t *testing.T) {
	opts := DefaultOptions()
	opts.RecvQueue = 4
	opts.SendQueue = 4
	tctx := NewContext(opts, nil)
	addr := freeTCPAddr(t)

	pub, err := tctx.Publish(addr)
	require.NoError(t, err)
	defer pub.Close()
	sub, err := tctx.Subscribe(addr)
	require.NoError(t, err)
	defer sub.Close()

	// wait for the pipe
	ready := make(chan struct{})
	go publishUntil(pub, seqMsg(0), ready)
	first, err := sub.Receive()
	require.NoError(t, err)
	close(ready)
	require.Equal(t, uint32(0), binary.LittleEndian.Uint32(first))

	const n = 3000
	const sentinel = ^uint32(0)
	go func() {
		for i := uint32(1); i <= n; i++ {
			_ = pub.Publish(seqMsg(i))
		}
	}()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		time.Sleep(50 * time.Millisecond)
		publishUntil(pub, seqMsg(sentinel), stop)
	}()

	var got []uint32
	last := uint32(0)
	for {
		msg, err := sub.Receive()
		require.NoError(t, err)
		v := binary.LittleEndian.Uint32(msg)
		if v == sentinel {
			break
		}
		if v == 0 {
			// straggler from the readiness loop
			continue
		}
		require.Greater(t, v, last, "out of order delivery")
		last = v
		got = append(got, v)
		time.Sleep(time.Millisecond)
	}
	assert.Less(t, len(got), n, "a slow subscriber should miss messages")
}

func seqMsg(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func TestParseScheme(t *testing.T) {
	for addr, want := range map[string]Scheme{
		"tcp://127.0.0.1:5555":      SchemeTCP,
		"ipc:///tmp/sdr.sock":       SchemeIPC,
		"inproc://a":                SchemeInproc,
		"NATS://localhost:4222/sdr": SchemeNATS,
	} {
		got, err := ParseScheme(addr)
		require.NoError(t, err, addr)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"", "tcp://", "://x", "ws://host:1"} {
		_, err := ParseScheme(bad)
		assert.ErrorIs(t, err, ErrUnsupportedScheme, bad)
	}
}

func TestSplitNATS(t *testing.T) {
	server, subject, err := splitNATS("nats://localhost:4222/sdr/time")
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", server)
	assert.Equal(t, "sdr.time", subject)

	_, subject, err = splitNATS("nats://localhost:4222")
	require.NoError(t, err)
	assert.Equal(t, "samples", subject)
}
