package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anemobox/codec"
	"anemobox/protocol"
)

func plainChannel() *Channel {
	return NewChannel(Options{Compressor: codec.Identity{}})
}

// reassemble splits recorded chunks back into messages.
func reassemble(t *testing.T, chunks [][]byte) [][]byte {
	t.Helper()
	r := protocol.NewReader(protocol.FramingSentinel, 0)
	var msgs [][]byte
	for _, chunk := range chunks {
		msg, done, err := r.Feed(chunk)
		require.NoError(t, err)
		if done {
			msgs = append(msgs, bytes.Clone(msg))
		}
	}
	assert.Zero(t, r.Pending(), "trailing partial message")
	return msgs
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("send did not complete")
		return nil
	}
}

func TestSendChunksAndResolvesAfterSentinel(t *testing.T) {
	ch := plainChannel()
	rec := &Recorder{}
	ch.OnSubscribe(20, rec)

	msg := bytes.Repeat([]byte("x"), 3*20+7)
	done := ch.Send(msg)

	for i := 0; i < 4; i++ {
		require.Equal(t, i+1, rec.Len(), "exactly one chunk outstanding")
		ch.OnNotifyConsumed()
	}
	require.Equal(t, 5, rec.Len())
	assert.True(t, protocol.IsEOM(rec.Chunks()[4]))

	select {
	case <-done:
		t.Fatal("resolved before the sentinel was consumed")
	default:
	}
	ch.OnNotifyConsumed()
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, [][]byte{msg}, reassemble(t, rec.Chunks()))
	assert.Zero(t, ch.Queued())
}

func TestConcurrentSendsDoNotInterleave(t *testing.T) {
	ch := plainChannel()
	rec := &Recorder{}
	ch.OnSubscribe(20, rec)

	msgs := [][]byte{
		bytes.Repeat([]byte("a"), 45),
		bytes.Repeat([]byte("b"), 61),
		bytes.Repeat([]byte("c"), 20),
	}
	dones := make([]<-chan error, len(msgs))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i, m := range msgs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := ch.Send(m)
			mu.Lock()
			dones[i] = d
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Acknowledge until nothing is queued; each ack releases one chunk.
	for ch.Queued() > 0 {
		before := rec.Len()
		ch.OnNotifyConsumed()
		if ch.Queued() > 0 {
			require.Equal(t, before+1, rec.Len())
		}
	}
	for _, d := range dones {
		require.NoError(t, waitDone(t, d))
	}

	got := reassemble(t, rec.Chunks())
	require.Len(t, got, 3)
	assert.ElementsMatch(t, msgs, got)
}

func TestQueuedUntilPeerReady(t *testing.T) {
	ch := plainChannel()
	done := ch.Send([]byte("hello"))
	assert.False(t, ch.Connected())
	assert.Equal(t, 1, ch.Queued())

	rec := &Recorder{}
	ch.OnSubscribe(20, rec)
	require.Equal(t, 1, rec.Len())
	ch.OnNotifyConsumed()
	ch.OnNotifyConsumed()
	require.NoError(t, waitDone(t, done))
}

func TestPeerGoneRequeuesAtFront(t *testing.T) {
	ch := plainChannel()
	first := &Recorder{}
	ch.OnSubscribe(20, first)

	a := bytes.Repeat([]byte("a"), 50)
	b := []byte("second")
	doneA := ch.Send(a)
	doneB := ch.Send(b)

	ch.OnNotifyConsumed() // a[0:20] consumed, a[20:40] in flight
	require.Equal(t, 2, first.Len())
	ch.OnUnsubscribe()
	assert.False(t, ch.Connected())
	assert.Equal(t, 2, ch.Queued())

	// A late acknowledgement from the old peer is ignored.
	ch.OnNotifyConsumed()
	assert.Equal(t, 2, first.Len())

	second := &Recorder{}
	ch.OnSubscribe(20, second)
	for ch.Queued() > 0 {
		ch.OnNotifyConsumed()
	}
	require.NoError(t, waitDone(t, doneA))
	require.NoError(t, waitDone(t, doneB))
	assert.Equal(t, [][]byte{a, b}, reassemble(t, second.Chunks()))
}

func TestResubscribeRestartsInFlightMessage(t *testing.T) {
	ch := plainChannel()
	first := &Recorder{}
	ch.OnSubscribe(20, first)

	msg := bytes.Repeat([]byte("x"), 3*20+7)
	done := ch.Send(msg)
	ch.OnNotifyConsumed()
	ch.OnNotifyConsumed()
	require.Equal(t, 3, first.Len())

	// The stack reports a new subscription without an unsubscribe first.
	second := &Recorder{}
	ch.OnSubscribe(20, second)
	assert.Equal(t, 1, ch.Queued())
	for ch.Queued() > 0 {
		ch.OnNotifyConsumed()
	}
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, [][]byte{msg}, reassemble(t, second.Chunks()))
	assert.Equal(t, msg[:20], second.Chunks()[0])
}

func TestNotifyErrorActsAsPeerGone(t *testing.T) {
	ch := plainChannel()
	rec := &Recorder{}
	rec.Fail(errors.New("gatt: not connected"))
	ch.OnSubscribe(20, rec)

	done := ch.Send([]byte("payload"))
	assert.False(t, ch.Connected())
	assert.Equal(t, 1, ch.Queued())

	ok := &Recorder{}
	ch.OnSubscribe(20, ok)
	ch.OnNotifyConsumed()
	ch.OnNotifyConsumed()
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, [][]byte{[]byte("payload")}, reassemble(t, ok.Chunks()))
}

func TestMTUChangeAppliesToNextChunk(t *testing.T) {
	ch := plainChannel()
	rec := &Recorder{}
	ch.OnSubscribe(20, rec)

	ch.Send(bytes.Repeat([]byte("m"), 100))
	ch.OnMTUChange(60)
	ch.OnNotifyConsumed()
	ch.OnMTUChange(5) // below the floor
	ch.OnNotifyConsumed()

	chunks := rec.Chunks()
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 20)
	assert.Len(t, chunks[1], 60)
	assert.Len(t, chunks[2], protocol.MinMTU)
}

func TestCloseFailsPending(t *testing.T) {
	ch := plainChannel()
	ch.OnSubscribe(20, &Recorder{})
	d1 := ch.Send([]byte("one"))
	d2 := ch.Send([]byte("two"))

	ch.Close()
	assert.ErrorIs(t, waitDone(t, d1), ErrClosed)
	assert.ErrorIs(t, waitDone(t, d2), ErrClosed)
	assert.ErrorIs(t, waitDone(t, ch.Send([]byte("three"))), ErrClosed)
	ch.Close()
}

func TestSendRejectsEmptyAndOversized(t *testing.T) {
	ch := NewChannel(Options{Compressor: codec.Identity{}, MaxMessageSize: 8})
	assert.ErrorIs(t, waitDone(t, ch.Send(nil)), protocol.ErrEmptyMessage)
	assert.ErrorIs(t, waitDone(t, ch.Send([]byte("too long for it"))), protocol.ErrFrameTooLarge)
}

func TestReceiveDropsBadMessages(t *testing.T) {
	ch := NewChannel(Options{})
	var got [][]byte
	ch.SetHandler(func(msg []byte) { got = append(got, msg) })

	// Not gzip.
	ch.OnWriteReceived([]byte("garbage"))
	ch.OnWriteReceived(protocol.EOM)
	// Empty message.
	ch.OnWriteReceived(protocol.EOM)
	assert.Empty(t, got)

	body, err := (&codec.Gzip{}).Compress([]byte(`{"callId":1,"func":"f"}`))
	require.NoError(t, err)
	w := protocol.NewWriter(protocol.FramingSentinel, body)
	for chunk, ok := w.Next(20); ok; chunk, ok = w.Next(20) {
		ch.OnWriteReceived(chunk)
	}
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"callId":1,"func":"f"}`, string(got[0]))
}

func TestLinkRoundTrip(t *testing.T) {
	for _, framing := range []protocol.Framing{protocol.FramingSentinel, protocol.FramingLength} {
		t.Run(framing.String(), func(t *testing.T) {
			a := NewChannel(Options{Framing: framing})
			b := NewChannel(Options{Framing: framing})

			received := make(chan []byte, 16)
			b.SetHandler(func(msg []byte) { received <- bytes.Clone(msg) })

			link := NewLink(a, b, 23)
			link.Connect()
			defer link.Disconnect()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			for i := 0; i < 5; i++ {
				msg := []byte(fmt.Sprintf(`{"callId":%d,"func":"echo","args":"%s"}`, i, bytes.Repeat([]byte("z"), i*40)))
				require.NoError(t, a.SendContext(ctx, msg))
				select {
				case got := <-received:
					assert.Equal(t, msg, got)
				case <-ctx.Done():
					t.Fatal("message not received")
				}
			}
		})
	}
}

func TestLinkQueuesAcrossReconnect(t *testing.T) {
	a := plainChannel()
	b := plainChannel()
	received := make(chan []byte, 4)
	b.SetHandler(func(msg []byte) { received <- bytes.Clone(msg) })

	// Queue while disconnected, then connect.
	link := NewLink(a, b, 20)
	done := a.Send(bytes.Repeat([]byte("q"), 200))
	link.Connect()
	require.NoError(t, waitDone(t, done))
	link.Disconnect()

	done = a.Send([]byte("after reconnect"))
	assert.False(t, a.Connected())
	link.Connect()
	defer link.Disconnect()
	require.NoError(t, waitDone(t, done))

	assert.Len(t, <-received, 200)
	assert.Equal(t, []byte("after reconnect"), <-received)
}
