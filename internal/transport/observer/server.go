// Package observer streams pipe activity to read-only loopback clients.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"voxelpipes.ai/internal/protocol"
	"voxelpipes.ai/internal/sim/pipes/registry"
)

// TickSource reports the current routing tick.
type TickSource interface {
	CurrentTick() uint64
}

type session struct {
	id  string
	out chan []byte

	mu      sync.RWMutex
	worlds  map[string]bool // nil means every world
	rescans bool
}

func (ss *session) wants(world string, rescan bool) bool {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	if rescan && !ss.rescans {
		return false
	}
	return ss.worlds == nil || ss.worlds[world]
}

func (ss *session) subscribe(sub protocol.SubscribeMsg) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.rescans = sub.Rescans
	if len(sub.Worlds) == 0 {
		ss.worlds = nil
		return
	}
	ss.worlds = map[string]bool{}
	for _, w := range sub.Worlds {
		ss.worlds[w] = true
	}
}

// Server fans ITEM_MOVED (and optionally RESCAN) messages out to websocket
// observers. It is registered on the runtime as an audit logger.
type Server struct {
	reg   *registry.Registry
	ticks TickSource
	log   logrus.FieldLogger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64
	// pongWait is how long an idle observer may go without answering a ping.
	pongWait time.Duration

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewServer(reg *registry.Registry, ticks TickSource, logger logrus.FieldLogger) *Server {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Server{
		reg:   reg,
		ticks: ticks,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only anyway
		},
		pongWait: 60 * time.Second,
		sessions: map[string]*session{},
	}
}

// Sessions returns the number of connected observers.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Dropped counts messages not delivered because an observer queue was full.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// RegisterMetrics exposes session and drop counts on reg.
func (s *Server) RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "pipes", Subsystem: "observer", Name: "sessions",
			Help: "Connected observer websockets.",
		}, func() float64 { return float64(s.Sessions()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "pipes", Subsystem: "observer", Name: "dropped_total",
			Help: "Messages not delivered because an observer queue was full.",
		}, func() float64 { return float64(s.Dropped()) }),
	)
}

func (s *Server) WriteItemMoved(m protocol.ItemMovedMsg) error {
	return s.broadcast(m.WorldID, false, m)
}

func (s *Server) WriteRescan(m protocol.RescanMsg) error {
	return s.broadcast(m.WorldID, true, m)
}

func (s *Server) broadcast(world string, rescan bool, v any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.sessions) == 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	for _, ss := range s.sessions {
		if !ss.wants(world, rescan) {
			continue
		}
		select {
		case ss.out <- b:
		default:
			// Slow observer; drop rather than stall the main path.
			s.dropped.Add(1)
		}
	}
	return nil
}

// NetworksHandler serves GET /v1/networks.
func (s *Server) NetworksHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.Networks(r.URL.Query().Get("world")))
	}
}

// Networks summarises the registry, optionally for a single world.
func (s *Server) Networks(world string) protocol.NetworksResponse {
	resp := protocol.NetworksResponse{
		ProtocolVersion: protocol.Version,
		Worlds:          []protocol.WorldNetworks{},
	}
	if s.ticks != nil {
		resp.Tick = s.ticks.CurrentTick()
	}
	all := s.reg.AllNetworks()
	ids := make([]string, 0, len(all))
	for id := range all {
		if world == "" || id == world {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		wn := protocol.WorldNetworks{WorldID: id, Networks: []protocol.NetworkSummary{}}
		for _, n := range all[id] {
			lo, hi, ok := n.Bounds()
			if !ok {
				continue
			}
			wn.Nodes += n.Len()
			wn.Networks = append(wn.Networks, protocol.NetworkSummary{Nodes: n.Len(), Lo: lo.ToArray(), Hi: hi.ToArray()})
		}
		resp.Total += len(wn.Networks)
		resp.Worlds = append(resp.Worlds, wn)
	}
	return resp
}

// WSHandler serves GET /v1/observe. The client must send SUBSCRIBE first and
// may resend it at any time to change its filter.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		ss := &session{
			id:  fmt.Sprintf("O%d", s.nextID.Add(1)),
			out: make(chan []byte, 4096),
		}
		ss.subscribe(sub)
		if err := writeJSON(conn, subscribed(ss)); err != nil {
			return
		}

		s.mu.Lock()
		s.sessions[ss.id] = ss
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, ss.id)
			s.mu.Unlock()
		}()
		s.log.WithField("session", ss.id).Info("observer joined")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Observers usually only listen, so liveness comes from ping/pong.
		_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.pongWait))
		})

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			ping := time.NewTicker(s.pongWait / 2)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
						writeErr <- err
						return
					}
				case b := <-ss.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
			sub, ok := decodeSubscribe(msg)
			if !ok {
				continue
			}
			ss.subscribe(sub)
			b, _ := json.Marshal(subscribed(ss))
			select {
			case ss.out <- b:
			default:
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.log.WithField("session", ss.id).Info("observer left")
	}
}

func decodeSubscribe(msg []byte) (protocol.SubscribeMsg, bool) {
	var sub protocol.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != protocol.TypeSubscribe || sub.ProtocolVersion != protocol.Version {
		return sub, false
	}
	worlds := sub.Worlds[:0]
	for _, w := range sub.Worlds {
		if w = strings.TrimSpace(w); w != "" {
			worlds = append(worlds, w)
		}
	}
	sub.Worlds = worlds
	return sub, true
}

func subscribed(ss *session) protocol.SubscribedMsg {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	worlds := []string{}
	for w := range ss.worlds {
		worlds = append(worlds, w)
	}
	sort.Strings(worlds)
	return protocol.SubscribedMsg{
		Type:            protocol.TypeSubscribed,
		ProtocolVersion: protocol.Version,
		Worlds:          worlds,
		Rescans:         ss.rescans,
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
