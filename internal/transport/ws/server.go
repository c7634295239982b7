package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"mobsim.dev/internal/coord"
	"mobsim.dev/internal/protocol"
	"mobsim.dev/internal/sim/agent"
	"mobsim.dev/internal/sim/geo"
)

// outQueue sizes the per-node send buffer. Position rebroadcasts dominate
// the traffic; sendLatest drops the oldest frame when a node falls behind.
const outQueue = 256

type Server struct {
	auth *coord.Authority
	log  *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(a *coord.Authority, logger *log.Logger) *Server {
	s := &Server{
		auth: a,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		nodeID, out := s.handshake(conn)
		if nodeID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// A hostile node can spam claims; shed load before the loop sees it.
		limiter := rate.NewLimiter(rate.Limit(200), 400)

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			if !limiter.Allow() {
				s.sendError(out, protocol.ErrRateLimit, "slow down")
				continue
			}
			env, ok := s.decodeEnvelope(nodeID, msg, out)
			if !ok {
				continue
			}
			s.auth.Inbox() <- env
		}

		// Cleanup.
		s.auth.Leave() <- nodeID
	}
}

// decodeEnvelope routes one inbound frame to its loop envelope. Unknown
// or malformed frames get an ERROR and are dropped.
func (s *Server) decodeEnvelope(nodeID string, msg []byte, out chan []byte) (coord.Envelope, bool) {
	env := coord.Envelope{NodeID: nodeID}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.sendError(out, protocol.ErrProtoBadRequest, "not json")
		return env, false
	}
	if base.ProtocolVersion != protocol.Version {
		s.sendError(out, protocol.ErrProtoBadRequest, "bad protocol_version")
		return env, false
	}

	switch base.Type {
	case protocol.TypeClaimAgent:
		var m protocol.ClaimAgentMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.sendError(out, protocol.ErrProtoBadRequest, "bad CLAIM_AGENT")
			return env, false
		}
		env.Claim = &m
	case protocol.TypeReleaseAgent:
		var m protocol.ReleaseAgentMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.sendError(out, protocol.ErrProtoBadRequest, "bad RELEASE_AGENT")
			return env, false
		}
		env.Release = &m
	case protocol.TypeAgentPos:
		var m protocol.AgentPosMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.sendError(out, protocol.ErrProtoBadRequest, "bad AGENT_POS")
			return env, false
		}
		env.Pos = &m
	case protocol.TypeNodeViewpoint:
		var m protocol.NodeViewpointMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.sendError(out, protocol.ErrProtoBadRequest, "bad NODE_VIEWPOINT")
			return env, false
		}
		env.Viewpoint = &m
	default:
		s.sendError(out, protocol.ErrProtoBadRequest, "unknown type "+base.Type)
		return env, false
	}
	return env, true
}

func (s *Server) sendError(out chan []byte, code, message string) {
	b, err := json.Marshal(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	})
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func (s *Server) handshake(conn *websocket.Conn) (nodeID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}
	if hello.NodeName == "" {
		hello.NodeName = "node"
	}

	out = make(chan []byte, outQueue)

	var vp *geo.Vec3
	if hello.Viewpoint != nil {
		v := agent.Vec3FromWire(*hello.Viewpoint)
		vp = &v
	}

	respCh := make(chan coord.JoinResponse, 1)
	s.auth.Join() <- coord.JoinRequest{
		NodeName:  hello.NodeName,
		Viewpoint: vp,
		Out:       out,
		Resp:      respCh,
	}
	resp := <-respCh

	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.auth.Leave() <- resp.NodeID
		return "", nil
	}

	s.log.Printf("node connected id=%s name=%q", resp.NodeID, hello.NodeName)
	return resp.NodeID, out
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
