package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resync/internal/ir"
)

func TestInbox_FIFO(t *testing.T) {
	in := NewInbox(NewCBORCodec())
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, in.Deliver(Broadcast("chat:1", i, ir.MustCheck(ir.IRObject{"n": ir.IRInt(i)}), "a", "x")))
	}
	assert.Equal(t, 5, in.Len())

	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		m, err := in.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, m.Revision)
	}
	assert.Equal(t, 0, in.Len())
}

func TestInbox_ReceiveBlocksUntilDelivery(t *testing.T) {
	in := NewInbox(NewCBORCodec())

	got := make(chan Message, 1)
	go func() {
		m, err := in.Receive(context.Background())
		if err == nil {
			got <- m
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, in.Deliver(Barrier("chat:1", 1)))

	select {
	case m := <-got:
		assert.Equal(t, KindBarrier, m.Kind)
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake up")
	}
}

func TestInbox_ReceiveHonorsContext(t *testing.T) {
	in := NewInbox(NewCBORCodec())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := in.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInbox_CloseDrainsThenFails(t *testing.T) {
	in := NewInbox(NewCBORCodec())
	require.NoError(t, in.Deliver(Barrier("chat:1", 1)))
	in.Close()
	in.Close()

	assert.True(t, in.Closed())
	assert.ErrorIs(t, in.Deliver(Barrier("chat:1", 2)), ErrClosed)
	assert.False(t, in.DeliverFrame([]byte{0x01}))

	ctx := context.Background()
	m, err := in.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.Token)

	_, err = in.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInbox_CloseWakesReceiver(t *testing.T) {
	in := NewInbox(NewCBORCodec())

	done := make(chan error, 1)
	go func() {
		_, err := in.Receive(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	in.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake Receive")
	}
}

func TestInbox_SharedFrameDecodesToPrivateCopies(t *testing.T) {
	codec := NewCBORCodec()
	frame, err := codec.Encode(Snapshot("chat:1", 0, ir.MustCheck(ir.IRObject{"n": ir.IRInt(1)})))
	require.NoError(t, err)

	a, b := NewInbox(codec), NewInbox(codec)
	require.True(t, a.DeliverFrame(frame))
	require.True(t, b.DeliverFrame(frame))

	ma, err := a.Receive(context.Background())
	require.NoError(t, err)
	mb, err := b.Receive(context.Background())
	require.NoError(t, err)

	ma.State.(ir.IRObject)["n"] = ir.IRInt(99)
	n, _ := mb.State.(ir.IRObject).Int("n")
	assert.Equal(t, int64(1), n)
}

func TestInbox_ConcurrentDeliveryKeepsPerSenderOrder(t *testing.T) {
	in := NewInbox(NewCBORCodec())

	const senders, perSender = 4, 50
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				assert.NoError(t, in.Deliver(Message{Kind: KindBarrier, Revision: int64(s), Token: uint64(i)}))
			}
		}(s)
	}
	wg.Wait()

	last := map[int64]int64{}
	for s := int64(0); s < senders; s++ {
		last[s] = -1
	}
	for i := 0; i < senders*perSender; i++ {
		m, ok, err := in.TryReceive()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Greater(t, int64(m.Token), last[m.Revision])
		last[m.Revision] = int64(m.Token)
	}

	_, ok, err := in.TryReceive()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestInbox_UndecodableFrameIsConsumed(t *testing.T) {
	in := NewInbox(NewCBORCodec())
	require.True(t, in.DeliverFrame([]byte{0xff, 0x00, 0x01}))
	require.NoError(t, in.Deliver(Barrier("counter:1", 7)))

	_, err := in.Receive(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUndecodable)

	m, err := in.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), m.Token)
	assert.Equal(t, 0, in.Len())
}
