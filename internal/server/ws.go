package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/gameweaver/internal/game"
	"github.com/MrWong99/gameweaver/internal/hub"
	"github.com/MrWong99/gameweaver/internal/observe"
)

// MsgConnected greets every new client.
const MsgConnected = "Connected to RPG Game Master"

// handleWS upgrades the request and runs the client's read loop. Text frames
// carry JSON envelopes, binary frames raw PCM16 microphone audio. Outbound
// messages are written by a separate goroutine draining the client's outbox.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := s.clients.Register()
	ctx = observe.WithClient(ctx, client.ID)
	log := observe.Logger(ctx)
	log.Info("client connected", "remote", r.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, conn, client, cancel)
	}()

	s.clients.Send(client.ID, hub.System(MsgConnected))
	s.readLoop(ctx, conn, client.ID, log)

	s.clients.Unregister(client.ID)
	cancel()
	<-writerDone
	_ = conn.Close(websocket.StatusNormalClosure, "")
	log.Info("client disconnected")
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, clientID string, log *slog.Logger) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
					log.Debug("websocket read ended", "err", err)
				}
			}
			return
		}

		if typ == websocket.MessageBinary {
			s.game.PushVoiceChunk(data)
			continue
		}

		var env game.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			s.clients.Send(clientID, hub.Failure("Malformed message."))
			continue
		}
		s.game.Handle(ctx, clientID, env)
	}
}

// writeLoop drains the outbox until it is closed or ctx ends. A failed write
// cancels ctx so the read loop stops too.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-client.Outbox():
			if !ok {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				slog.Error("encode outbound message", "event", msg.Event, "err", err)
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err = conn.Write(wctx, websocket.MessageText, payload)
			wcancel()
			if err != nil {
				slog.Debug("websocket write failed", "client_id", client.ID, "err", err)
				cancel()
				return
			}
		}
	}
}
