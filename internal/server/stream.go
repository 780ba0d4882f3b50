package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"swap-relay/internal/registry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4 << 10
)

// Client commands on the swap stream.
const (
	CommandSubscribe   = "subscribe"
	CommandRefresh     = "refresh"
	CommandUnsubscribe = "unsubscribe"
)

// Server messages on the swap stream.
const (
	MessageSubscribed   = "subscribed"
	MessageArtifact     = "artifact"
	MessageError        = "error"
	MessageUnsubscribed = "unsubscribed"
)

// StreamCommand is a client message.
type StreamCommand struct {
	Type   string         `json:"type"`
	Intent *IntentPayload `json:"intent,omitempty"`
}

// StreamMessage is a server message.
type StreamMessage struct {
	Type       string           `json:"type"`
	Generation uint64           `json:"generation,omitempty"`
	Artifact   *ArtifactPayload `json:"artifact,omitempty"`
	Error      *ErrorDetail     `json:"error,omitempty"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.origins) == 0 {
				return true
			}
			_, ok := s.origins[r.Header.Get("Origin")]
			return ok
		},
	}
}

// handleStream upgrades to a websocket carrying one owner's subscription.
// Intents and refresh commands come in; artifacts and errors go out.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())
	ws, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	c := &streamConn{
		server: s,
		ws:     ws,
		owner:  owner,
		cancel: cancel,
		logger: s.logger.With(zap.String("owner", owner)),
	}
	c.serve(ctx)
}

// streamConn is one websocket client.
type streamConn struct {
	server *Server
	ws     *websocket.Conn
	owner  string
	cancel context.CancelFunc
	logger *zap.Logger

	writeMu sync.Mutex
	wg      sync.WaitGroup

	mu      sync.Mutex
	current *registry.Stream
	epoch   uint64 // bumped by every subscribe command
}

func (c *streamConn) serve(ctx context.Context) {
	c.logger.Debug("stream connected")
	stop := context.AfterFunc(ctx, func() { c.ws.Close() })
	defer stop()
	defer func() {
		c.cancel()
		if cur := c.swap(nil); cur != nil {
			c.server.subs.Release(c.owner, cur.Generation())
		}
		c.wg.Wait()
		c.ws.Close()
		c.logger.Debug("stream disconnected")
	}()

	c.wg.Add(1)
	go c.pingLoop(ctx)

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd StreamCommand
		if err := c.ws.ReadJSON(&cmd); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				c.logger.Debug("stream read failed", zap.Error(err))
			}
			return
		}
		if err := c.handle(ctx, cmd); err != nil {
			return
		}
	}
}

// handle executes one command. A returned error closes the connection.
func (c *streamConn) handle(ctx context.Context, cmd StreamCommand) error {
	switch cmd.Type {
	case CommandSubscribe:
		if cmd.Intent == nil {
			return c.writeError(0, errBadRequest)
		}
		c.mu.Lock()
		c.epoch++
		epoch := c.epoch
		c.mu.Unlock()

		stream, err := c.server.subs.Subscribe(ctx, c.owner, cmd.Intent.intent())
		if err != nil {
			return c.writeError(0, err)
		}
		c.swap(stream)
		if err := c.write(StreamMessage{Type: MessageSubscribed, Generation: stream.Generation()}); err != nil {
			return err
		}
		c.wg.Add(1)
		go c.forward(ctx, stream, epoch)
		return nil

	case CommandRefresh:
		if err := c.server.subs.RefreshNow(ctx, c.owner); err != nil {
			return c.writeError(0, err)
		}
		return nil

	case CommandUnsubscribe:
		cur := c.swap(nil)
		if cur == nil {
			return c.write(StreamMessage{Type: MessageUnsubscribed})
		}
		// forward reports the closed stream.
		c.server.subs.Release(c.owner, cur.Generation())
		return nil

	default:
		return c.writeError(0, errBadRequest)
	}
}

// forward copies stream events to the client until the stream closes.
// A close that no later subscribe command caused is reported to the client.
func (c *streamConn) forward(ctx context.Context, stream *registry.Stream, epoch uint64) {
	defer c.wg.Done()
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, registry.ErrStreamClosed) && ctx.Err() == nil && c.release(stream, epoch) {
				c.write(StreamMessage{Type: MessageUnsubscribed, Generation: stream.Generation()})
			}
			return
		}

		if ev.Err != nil {
			err = c.writeError(ev.Generation, ev.Err)
		} else {
			err = c.write(StreamMessage{
				Type:       MessageArtifact,
				Generation: ev.Generation,
				Artifact:   newArtifactPayload(ev.Artifact),
			})
		}
		if err != nil {
			c.cancel()
			return
		}
	}
}

func (c *streamConn) pingLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				c.ws.Close()
				return
			}
		}
	}
}

func (c *streamConn) write(msg StreamMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

func (c *streamConn) writeError(generation uint64, err error) error {
	_, detail := errorDetail(err)
	return c.write(StreamMessage{Type: MessageError, Generation: generation, Error: &detail})
}

// swap replaces the connection's current stream and returns the previous one.
func (c *streamConn) swap(stream *registry.Stream) *registry.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.current
	c.current = stream
	return prev
}

// release forgets a closed stream unless a later subscribe command has
// started since it was opened. It reports whether the stream was released.
func (c *streamConn) release(stream *registry.Stream, epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	if c.current == stream {
		c.current = nil
	}
	return true
}
