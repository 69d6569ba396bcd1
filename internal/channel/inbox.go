package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Receive once an inbox is closed and drained,
// and by Deliver on a closed inbox.
var ErrClosed = errors.New("channel: inbox closed")

// ErrUndecodable wraps a frame that the inbox codec refused. The frame is
// consumed; the next Receive continues with the following one.
var ErrUndecodable = errors.New("channel: undecodable frame")

// Inbox is one subscriber's ordered, unbounded message queue.
//
// Frames are stored encoded and decoded on Receive, on the subscriber's
// goroutine. The sender never blocks: a slow subscriber only grows its own
// queue.
//
// Thread-safety: Deliver, DeliverFrame, Close and Len are safe from any
// goroutine. Receive is meant for a single consumer.
type Inbox struct {
	codec Codec

	mu     sync.Mutex
	frames [][]byte
	closed bool
	signal chan struct{} // buffered, size 1
}

// NewInbox creates an empty inbox decoding frames with codec.
func NewInbox(codec Codec) *Inbox {
	return &Inbox{
		codec:  codec,
		frames: make([][]byte, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Codec returns the codec frames are expected in.
func (in *Inbox) Codec() Codec {
	return in.codec
}

// Deliver encodes m and appends it.
func (in *Inbox) Deliver(m Message) error {
	frame, err := in.codec.Encode(m)
	if err != nil {
		return err
	}
	if !in.DeliverFrame(frame) {
		return ErrClosed
	}
	return nil
}

// DeliverFrame appends an already encoded frame. The frame must not be
// modified afterwards; one frame may be shared by many inboxes.
// Returns false if the inbox is closed.
func (in *Inbox) DeliverFrame(frame []byte) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return false
	}
	in.frames = append(in.frames, frame)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case in.signal <- struct{}{}:
	default:
	}
	return true
}

// tryPop removes the front frame.
func (in *Inbox) tryPop() ([]byte, bool, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.frames) == 0 {
		return nil, false, in.closed
	}
	frame := in.frames[0]
	in.frames[0] = nil // release for GC
	if len(in.frames) == 1 {
		in.frames = in.frames[:0]
	} else {
		in.frames = in.frames[1:]
	}
	return frame, true, in.closed
}

// TryReceive returns the next message without blocking.
// ok is false when the inbox is empty.
func (in *Inbox) TryReceive() (m Message, ok bool, err error) {
	frame, ok, closed := in.tryPop()
	if !ok {
		if closed {
			return Message{}, false, ErrClosed
		}
		return Message{}, false, nil
	}
	m, err = in.codec.Decode(frame)
	if err != nil {
		return Message{}, false, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	return m, true, nil
}

// Receive blocks until a message is available, the inbox is closed and
// drained (ErrClosed), or ctx is done. Messages delivered before Close are
// still returned.
func (in *Inbox) Receive(ctx context.Context) (Message, error) {
	for {
		m, ok, err := in.TryReceive()
		if ok || err != nil {
			return m, err
		}

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-in.signal:
			// Either a new frame or a closed signal channel; loop to find out.
		}
	}
}

// Close stops further deliveries and wakes a blocked Receive.
// Idempotent.
func (in *Inbox) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return
	}
	in.closed = true
	close(in.signal)
}

// Closed reports whether Close was called.
func (in *Inbox) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// Len returns the number of undelivered messages.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.frames)
}
