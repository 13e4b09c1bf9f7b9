package transport

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATSRoundTripSharesConnection(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()

	tctx := NewContext(DefaultOptions(), nil)
	addr := srv.ClientURL() + "/sdr/time"

	sub, err := tctx.Subscribe(addr)
	require.NoError(t, err)
	pub, err := tctx.Publish(addr)
	require.NoError(t, err)

	tctx.mu.Lock()
	conns := len(tctx.conns)
	refs := tctx.conns[srv.ClientURL()].refs
	tctx.mu.Unlock()
	assert.Equal(t, 1, conns)
	assert.Equal(t, 2, refs)

	require.NoError(t, pub.Publish([]byte{9, 8, 7}))
	got, err := sub.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7}, got)

	require.NoError(t, pub.Close())
	require.NoError(t, sub.Close())
	assert.False(t, tctx.Active())

	tctx.mu.Lock()
	assert.Empty(t, tctx.conns)
	tctx.mu.Unlock()
}

func TestNATSCloseUnblocksReceive(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()

	tctx := NewContext(DefaultOptions(), nil)
	sub, err := tctx.Subscribe(srv.ClientURL())
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
}

func TestNATSBindFailure(t *testing.T) {
	tctx := NewContext(DefaultOptions(), nil)
	_, err := tctx.Publish("nats://127.0.0.1:1/samples")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBind)
	assert.False(t, tctx.Active())
}

func TestNATSSlowDialDoesNotStallOtherEndpoints(t *testing.T) {
	// A listener that accepts but never sends INFO keeps the dial hanging
	// until the connect timeout.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		var held []net.Conn
		for {
			conn, err := ln.Accept()
			if err != nil {
				for _, c := range held {
					_ = c.Close()
				}
				return
			}
			held = append(held, conn)
		}
	}()

	tctx := NewContext(DefaultOptions(), nil)
	dialed := make(chan error, 1)
	go func() {
		_, err := tctx.Subscribe("nats://" + ln.Addr().String() + "/b")
		dialed <- err
	}()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	pub, err := tctx.Publish(inprocAddr())
	require.NoError(t, err)
	require.NoError(t, pub.Close())
	assert.Less(t, time.Since(start), 500*time.Millisecond, "inproc endpoint waited on an unrelated dial")

	select {
	case err := <-dialed:
		assert.ErrorIs(t, err, ErrConnect)
	case <-time.After(natsConnectTimeout + 3*time.Second):
		t.Fatal("hanging dial never returned")
	}
	assert.False(t, tctx.Active())
}

func TestNATSSlowSubscriberKeepsOrder(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()

	opts := DefaultOptions()
	opts.RecvQueue = 8
	tctx := NewContext(opts, nil)
	addr := srv.ClientURL() + "/sdr/seq"

	sub, err := tctx.Subscribe(addr)
	require.NoError(t, err)
	defer sub.Close()
	pub, err := tctx.Publish(addr)
	require.NoError(t, err)
	defer pub.Close()

	// Nothing is received until the whole burst has reached the client.
	const n = 200
	for i := uint32(1); i <= n; i++ {
		require.NoError(t, pub.Publish(seqMsg(i)))
	}
	tctx.mu.Lock()
	nc := tctx.conns[srv.ClientURL()].nc
	tctx.mu.Unlock()
	require.NoError(t, nc.Flush())

	const sentinel = ^uint32(0)
	stop := make(chan struct{})
	defer close(stop)
	go publishUntil(pub, seqMsg(sentinel), stop)

	var got []uint32
	last := uint32(0)
	for {
		msg, err := sub.Receive()
		require.NoError(t, err)
		v := binary.LittleEndian.Uint32(msg)
		if v == sentinel {
			break
		}
		require.Greater(t, v, last, "out of order delivery")
		last = v
		got = append(got, v)
	}
	assert.NotEmpty(t, got)
	assert.Less(t, len(got), n, "a slow subscriber should miss messages")
	assert.Equal(t, uint32(1), got[0], "the oldest queued message should survive")
}
