// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logpipeline

import (
	"encoding/binary"
	"encoding/json"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"grimm.is/flywall/internal/errors"
	"grimm.is/flywall/internal/logging"
	"grimm.is/flywall/internal/logrecord"
)

const subscriberBuffer = 256

// Broadcaster is the log fan-out server (C10, spec §4.10): a local stream
// socket where every accepted connection gets its own copy of every
// published record. A slow consumer is disconnected rather than allowed to
// stall the producer.
type Broadcaster struct {
	socketPath string
	log        *logging.Logger

	mu          sync.Mutex
	listener    net.Listener
	subscribers map[chan logrecord.Serialized]struct{}
	dropped     atomic.Uint64
}

// NewBroadcaster creates a fan-out server bound to socketPath.
func NewBroadcaster(socketPath string, log *logging.Logger) *Broadcaster {
	if log == nil {
		log = logging.Default()
	}
	return &Broadcaster{
		socketPath:  socketPath,
		log:         log.WithComponent("logfanout"),
		subscribers: make(map[chan logrecord.Serialized]struct{}),
	}
}

// Start binds the fan-out socket and begins accepting connections.
func (b *Broadcaster) Start() error {
	os.Remove(b.socketPath)

	listener, err := net.Listen("unix", b.socketPath)
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "listening on log fan-out socket %s", b.socketPath)
	}

	b.mu.Lock()
	b.listener = listener
	b.mu.Unlock()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				b.log.Warn("log fan-out accept error", "err", err)
				return
			}
			go b.serveSubscriber(conn)
		}
	}()

	b.log.Info("log fan-out listening", "socket", b.socketPath)
	return nil
}

// Close stops accepting connections and removes the socket file.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	err := b.listener.Close()
	os.Remove(b.socketPath)
	b.listener = nil
	return err
}

// Publish delivers rec to every connected subscriber without blocking the
// caller (spec §4.9: "no backpressure from C10 may block C9"). A
// subscriber whose buffer is full is counted as a dropped delivery and
// disconnected: its channel is closed here, so serveSubscriber writes what
// is still buffered and then closes the connection.
func (b *Broadcaster) Publish(rec logrecord.Serialized) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- rec:
		default:
			b.dropped.Add(1)
			delete(b.subscribers, ch)
			close(ch)
		}
	}
}

// DroppedCount returns the number of records dropped because a
// subscriber's buffer was full (spec §9).
func (b *Broadcaster) DroppedCount() uint64 {
	return b.dropped.Load()
}

func (b *Broadcaster) serveSubscriber(conn net.Conn) {
	defer conn.Close()

	ch := make(chan logrecord.Serialized, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subscribers, ch)
		b.mu.Unlock()
	}()

	for rec := range ch {
		if err := writeFrame(conn, rec); err != nil {
			return
		}
	}
}

// writeFrame writes one length-prefixed JSON frame (spec §6.3): a 4-byte
// big-endian length, then the UTF-8 JSON body.
func writeFrame(conn net.Conn, rec logrecord.Serialized) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(body)))
	if _, err := conn.Write(length[:]); err != nil {
		return err
	}
	_, err = conn.Write(body)
	return err
}
