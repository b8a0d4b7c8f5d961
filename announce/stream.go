package announce

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/colorfulnotion/jamjit/log"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 54 * time.Second
	streamClientBuf  = 256
	streamBacklog    = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Stream broadcasts announcements as JSON text frames to every connected
// websocket client, for remote profilers. Announce never blocks: records
// are dropped when the backlog or a client's queue is full.
type Stream struct {
	clients    map[*streamClient]struct{}
	register   chan *streamClient
	unregister chan *streamClient
	broadcast  chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex // orders wg.Add in ServeHTTP against Close
	closed bool

	seq       atomic.Uint64
	connected atomic.Int64
	dropped   atomic.Uint64
}

// NewStream starts the broadcast loop; it stops when ctx is done or Close
// is called. Mount the Stream as an http.Handler to accept clients.
func NewStream(ctx context.Context) *Stream {
	cctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		clients:    make(map[*streamClient]struct{}),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		broadcast:  make(chan []byte, streamBacklog),
		ctx:        cctx,
		cancel:     cancel,
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Stream) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			for c := range s.clients {
				close(c.send)
			}
			s.clients = nil
			s.connected.Store(0)
			return

		case c := <-s.register:
			s.clients[c] = struct{}{}
			s.connected.Add(1)

		case c := <-s.unregister:
			if _, ok := s.clients[c]; ok {
				delete(s.clients, c)
				close(c.send)
				s.connected.Add(-1)
			}

		case msg := <-s.broadcast:
			for c := range s.clients {
				select {
				case c.send <- msg:
				default:
					// slow client: drop it rather than stall the builders
					close(c.send)
					delete(s.clients, c)
					s.connected.Add(-1)
					s.dropped.Add(1)
				}
			}
		}
	}
}

// Announce implements jit.Announcer.
func (s *Stream) Announce(addr uintptr, size int, name string) {
	rec := NewRecord(addr, size, name)
	rec.Seq = s.seq.Add(1)
	msg, err := json.Marshal(rec)
	if err != nil {
		observe("stream", err)
		return
	}
	select {
	case s.broadcast <- msg:
		observe("stream", nil)
	default:
		s.dropped.Add(1)
		announceTotal.WithLabelValues("stream", "dropped").Inc()
	}
}

// Clients returns the number of connected clients.
func (s *Stream) Clients() int { return int(s.connected.Load()) }

// Dropped returns how many records or clients were dropped for being slow.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }

// ServeHTTP upgrades the request and subscribes the connection. Once the
// stream is closed requests get 503.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed || s.ctx.Err() != nil {
		s.mu.Unlock()
		http.Error(w, "announcement stream closed", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(2)
	s.mu.Unlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.wg.Add(-2)
		log.Warn(log.AnnounceModule, "stream upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := &streamClient{stream: s, conn: conn, send: make(chan []byte, streamClientBuf)}
	select {
	case s.register <- c:
	case <-s.ctx.Done():
		s.wg.Add(-2)
		conn.Close()
		return
	}
	log.Debug(log.AnnounceModule, "stream client connected", "remote", r.RemoteAddr)

	go c.writePump()
	go c.readPump()
}

// Close disconnects every client and waits for the pumps to exit.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	return nil
}

type streamClient struct {
	stream *Stream
	conn   *websocket.Conn
	send   chan []byte
}

// readPump only services control frames; clients do not send requests.
func (c *streamClient) readPump() {
	defer c.stream.wg.Done()
	defer func() {
		select {
		case c.stream.unregister <- c:
		case <-c.stream.ctx.Done():
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Trace(log.AnnounceModule, "stream client closed", "err", err)
			}
			return
		}
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.stream.wg.Done()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
