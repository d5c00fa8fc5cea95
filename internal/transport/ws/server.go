// Package ws accepts admin world edits over a loopback websocket and feeds the
// resulting notifications to the pipe runtime.
package ws

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voxelpipes.ai/internal/protocol"
	"voxelpipes.ai/internal/sim/grid"
	"voxelpipes.ai/internal/sim/grid/memgrid"
	"voxelpipes.ai/internal/sim/pipeworld"
)

type Server struct {
	rt   *pipeworld.Runtime
	host *memgrid.Host
	log  logrus.FieldLogger

	upgrader websocket.Upgrader
}

func NewServer(rt *pipeworld.Runtime, host *memgrid.Host, logger logrus.FieldLogger) *Server {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Server{
		rt:   rt,
		host: host,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only anyway
		},
	}
}

// Handler serves GET /v1/admin. Each SET_BLOCK text frame gets one ACK.
func (s *Server) Handler() http.HandlerFunc {
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

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ack := s.handle(r.Context(), msg)
			if err := writeJSON(conn, ack); err != nil {
				return
			}
		}
	}
}

func (s *Server) handle(ctx context.Context, msg []byte) protocol.AckMsg {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return reject("", protocol.ErrProtoBadRequest, "bad json")
	}
	if base.ProtocolVersion != protocol.Version {
		return reject(base.Type, protocol.ErrProtoBadRequest, "bad protocol_version")
	}
	if base.Type != protocol.TypeSetBlock {
		return reject(base.Type, protocol.ErrProtoBadRequest, "expected SET_BLOCK")
	}
	var sb protocol.SetBlockMsg
	if err := json.Unmarshal(msg, &sb); err != nil {
		return reject(base.Type, protocol.ErrProtoBadRequest, "bad SET_BLOCK")
	}
	return s.SetBlock(ctx, sb)
}

// SetBlock applies one edit on the main path and reports the rescans it
// scheduled in the ACK message.
func (s *Server) SetBlock(ctx context.Context, sb protocol.SetBlockMsg) protocol.AckMsg {
	sb.Block = strings.ToUpper(strings.TrimSpace(sb.Block))
	if sb.Block == "" && sb.Signal == nil {
		return reject(protocol.TypeSetBlock, protocol.ErrBadRequest, "block or signal required")
	}
	var (
		events  []pipeworld.Event
		editErr error
		loaded  bool
	)
	err := s.rt.Exec(ctx, func(grid.Host) {
		g := s.host.Grid(sb.WorldID)
		if loaded = g != nil; !loaded {
			return
		}
		p := g.Pos(sb.Pos[0], sb.Pos[1], sb.Pos[2])
		before := g.BlockKindAt(p)
		if sb.Block != "" {
			if editErr = g.SetBlock(p, sb.Block); editErr != nil {
				return
			}
			after := g.BlockKindAt(p)
			if before != grid.KindNone {
				events = append(events, pipeworld.BlockBroken(p, before))
			}
			if after != grid.KindNone {
				events = append(events, pipeworld.BlockPlaced(p, after))
			}
		}
		if sb.Signal != nil {
			g.SetSignal(p, *sb.Signal)
			events = append(events, pipeworld.SignalChanged(p, g.BlockKindAt(p)))
		}
	})
	if err != nil {
		return reject(protocol.TypeSetBlock, protocol.ErrWorldBusy, err.Error())
	}
	if !loaded {
		return reject(protocol.TypeSetBlock, protocol.ErrWorldNotFound, "world not loaded: "+sb.WorldID)
	}
	if editErr != nil {
		return reject(protocol.TypeSetBlock, protocol.ErrInvalidTarget, editErr.Error())
	}

	rescans := 0
	for _, ev := range events {
		rescans += s.rt.HandleEvent(ev)
	}
	s.log.WithFields(logrus.Fields{
		"world":   sb.WorldID,
		"pos":     sb.Pos,
		"block":   sb.Block,
		"rescans": rescans,
	}).Info("admin edit")

	return protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          protocol.TypeSetBlock,
		Accepted:        true,
		ServerTick:      s.rt.CurrentTick(),
		WorldID:         sb.WorldID,
		Message:         "rescans=" + strconv.Itoa(rescans),
	}
}

func reject(ackFor, code, message string) protocol.AckMsg {
	return protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          ackFor,
		Code:            code,
		Message:         message,
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
