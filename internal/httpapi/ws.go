package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/protocol"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/session"
)

// Upgrader wraps gorilla/websocket.Upgrader, generalizing the teacher's
// permissive CheckOrigin from sumanthd032-CollabText/agent/main.go.
type Upgrader struct {
	inner websocket.Upgrader
}

// NewUpgrader returns an Upgrader suitable for same-origin or
// reverse-proxied deployments; it accepts connections from any origin.
func NewUpgrader() Upgrader {
	return Upgrader{inner: websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}}
}

// tickInterval drives Session.Tick for periodic work (throttled cursor
// flush, awareness batching, activity transitions, snapshots, full sync).
const tickInterval = 20 * time.Millisecond

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.inner.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := session.New(s.deps.Verifier, s.deps.Oracle, s.deps.Rooms, s.deps.SessCfg, session.SystemClock)
	pump := &connectionPump{conn: conn, session: sess, logger: s.deps.Logger}
	pump.run()
}

// connectionPump generalizes sumanthd032-CollabText/agent/main.go's
// Client.readPump/writePump goroutine pair into a read/tick/broadcast
// trio supervised by an errgroup (spec.md §9 "one inbound task, one
// outbound task, one ticker"; the broadcast leg is this port's peer
// fan-out, the teacher's equivalent being its redis-subscribe goroutine in
// server/main.go). writeMu serializes the three legs' writes onto the one
// connection, which gorilla/websocket requires callers to do themselves.
type connectionPump struct {
	conn    *websocket.Conn
	session *session.Session
	logger  *zap.Logger
	writeMu sync.Mutex
}

func (p *connectionPump) run() {
	defer p.conn.Close()

	done := make(chan struct{})
	var g errgroup.Group

	g.Go(func() error {
		defer close(done)
		return p.readLoop()
	})
	g.Go(func() error {
		return p.tickLoop(done)
	})
	g.Go(func() error {
		return p.broadcastLoop(done)
	})

	if err := g.Wait(); err != nil {
		p.logger.Debug("connection pump ended", zap.Error(err))
	}
}

func (p *connectionPump) readLoop() error {
	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			p.session.Close()
			return nil
		}

		closeCode, err := p.session.Dispatch(raw)
		if err != nil {
			p.logger.Debug("dispatch error", zap.Error(err))
		}
		if slow := p.writeOutbound(p.session.PendingOutbound()); slow {
			p.closeWith(protocol.CloseSlowConsumer)
			return nil
		}
		if !p.flushOutbound() {
			return nil
		}
		if closeCode != nil {
			p.closeWith(*closeCode)
			return nil
		}
	}
}

func (p *connectionPump) tickLoop(done <-chan struct{}) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			outbound, closeCode := p.session.Tick()
			if slow := p.writeOutbound(outbound); slow {
				p.closeWith(protocol.CloseSlowConsumer)
				return nil
			}
			if !p.flushOutbound() {
				return nil
			}
			if closeCode != nil {
				p.closeWith(*closeCode)
				return nil
			}
		}
	}
}

// broadcastLoop delivers peer fan-out queued by the joined room (cursor,
// graph updates, join/leave) onto this connection's outbound queue as soon
// as it arrives, rather than waiting for the next tick (spec.md §4.6
// "broadcast_update").
func (p *connectionPump) broadcastLoop(done <-chan struct{}) error {
	for {
		select {
		case <-done:
			return nil
		case bm, ok := <-p.session.BroadcastChannel():
			if !ok {
				return nil
			}
			slow, err := p.session.Enqueue(bm.Message, bm.Priority)
			if err != nil {
				p.logger.Warn("failed to encode broadcast message", zap.Error(err))
				continue
			}
			if slow {
				p.closeWith(protocol.CloseSlowConsumer)
				return nil
			}
			if !p.flushOutbound() {
				return nil
			}
		}
	}
}

// writeOutbound encodes and enqueues messages produced by Dispatch or Tick,
// returning true if the session must now close with SlowConsumer.
func (p *connectionPump) writeOutbound(outbound []session.Outbound) (slowConsumer bool) {
	for _, o := range outbound {
		slow, err := p.session.Enqueue(o.Message, o.Priority)
		if err != nil {
			p.logger.Warn("failed to encode outbound message", zap.Error(err))
			continue
		}
		if slow {
			slowConsumer = true
		}
	}
	return slowConsumer
}

// flushOutbound writes every queued frame to the socket; returns false if
// a write to the socket fails.
func (p *connectionPump) flushOutbound() bool {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	for _, frame := range p.session.DrainOutbound() {
		if err := p.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return false
		}
	}
	return true
}

func (p *connectionPump) closeWith(code protocol.CloseCode) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(int(code), code.String())
	_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
