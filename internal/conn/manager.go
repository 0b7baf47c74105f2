// Package conn owns the transport lifecycle: one listening goroutine per open
// connection, a broadcast of decoded inbound messages, and a current-value
// view of connection status.
package conn

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/codearena/battle-client/internal/protocol"
	"github.com/codearena/battle-client/internal/transport"
)

var ErrNotConnected = errors.New("not connected")

// Status is the single current-value observable of §7: Connected flips on
// connect/disconnect, LastError carries the most recent transport failure.
type Status struct {
	Connected bool
	LastError string
}

const subBuffer = 64

type Manager struct {
	tr  transport.Transport
	log *zap.Logger

	mu         sync.Mutex
	connected  bool
	lastError  string
	subs       map[string]chan protocol.Inbound
	statusSubs map[string]chan Status
	cancelRead context.CancelFunc
	done       chan struct{}
}

func NewManager(tr transport.Transport, log *zap.Logger) *Manager {
	return &Manager{
		tr:         tr,
		log:        log,
		subs:       make(map[string]chan protocol.Inbound),
		statusSubs: make(map[string]chan Status),
	}
}

// Connect opens the transport and starts the listening goroutine. Idempotent
// while connected. Failure is recorded in Status and returned; no retry.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return nil
	}

	if err := m.tr.Dial(ctx, credential); err != nil {
		m.setStatusLocked(false, err.Error())
		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())
	m.cancelRead = cancel
	m.done = make(chan struct{})
	m.setStatusLocked(true, "")
	go m.listen(readCtx, m.done)
	return nil
}

// Disconnect cancels the listener, closes the transport, and waits for the
// listening goroutine to finish so no stale frame lands after return. Calling
// it while not connected is a no-op.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done := m.cancelRead, m.done
	m.cancelRead, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	_ = m.tr.Close()
	<-done
}

// Send encodes and forwards one command. Sending while disconnected is an
// error for the caller, never a silent drop.
func (m *Manager) Send(ctx context.Context, cmd protocol.Command) error {
	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	frame, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	if err := m.tr.Send(ctx, frame); err != nil {
		m.log.Warn("send failed", zap.Error(err))
		return err
	}
	return nil
}

// Subscribe registers a broadcast receiver. No replay: messages published
// before the subscription are gone.
func (m *Manager) Subscribe(id string) <-chan protocol.Inbound {
	ch := make(chan protocol.Inbound, subBuffer)
	m.mu.Lock()
	m.subs[id] = ch
	m.mu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	if ch, ok := m.subs[id]; ok {
		close(ch)
		delete(m.subs, id)
	}
	m.mu.Unlock()
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{Connected: m.connected, LastError: m.lastError}
}

// StatusChanges delivers at least the latest status: a slow reader has its
// stale value replaced rather than queueing history.
func (m *Manager) StatusChanges(id string) <-chan Status {
	ch := make(chan Status, 1)
	m.mu.Lock()
	m.statusSubs[id] = ch
	ch <- Status{Connected: m.connected, LastError: m.lastError}
	m.mu.Unlock()
	return ch
}

func (m *Manager) StopStatusChanges(id string) {
	m.mu.Lock()
	if ch, ok := m.statusSubs[id]; ok {
		close(ch)
		delete(m.statusSubs, id)
	}
	m.mu.Unlock()
}

// Close tears everything down, including subscriber channels.
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	for id, ch := range m.statusSubs {
		close(ch)
		delete(m.statusSubs, id)
	}
	m.mu.Unlock()
}

func (m *Manager) listen(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		data, err := m.tr.Receive(ctx)
		if err != nil {
			reason := ""
			switch {
			case ctx.Err() != nil, errors.Is(err, transport.ErrClosed):
				m.log.Info("connection closed")
			default:
				reason = err.Error()
				m.log.Warn("transport read failed", zap.Error(err))
			}
			m.mu.Lock()
			m.setStatusLocked(false, reason)
			// Drop the lifecycle pair so the next Connect starts a fresh
			// session instead of inheriting this one.
			if m.cancelRead != nil {
				m.cancelRead()
				m.cancelRead = nil
			}
			m.done = nil
			m.mu.Unlock()
			// Close the transport on the way out: a plain Connect must
			// re-dial, not reuse the dead socket.
			_ = m.tr.Close()
			m.publish(protocol.Disconnected{Reason: reason})
			return
		}
		m.publish(protocol.Decode(data))
	}
}

func (m *Manager) publish(msg protocol.Inbound) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		select {
		case ch <- msg:
			// ok
		default:
			// Subscriber is slow/full - drop them.
			m.log.Warn("dropping slow subscriber", zap.String("id", id))
			close(ch)
			delete(m.subs, id)
		}
	}
}

// setStatusLocked requires m.mu held.
func (m *Manager) setStatusLocked(connected bool, lastError string) {
	m.connected = connected
	m.lastError = lastError
	s := Status{Connected: connected, LastError: lastError}
	for _, ch := range m.statusSubs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}
