package relay

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/igorsilveira/parley/pkg/trace"
)

const writeTimeout = 5 * time.Second

type wsOutgoing struct {
	Type         string       `json:"type"`
	SubscriberID string       `json:"subscriber_id,omitempty"`
	Entry        *trace.Entry `json:"entry,omitempty"`
}

// handleTraceStream pushes every upstream attempt to the client as it is recorded.
func (s *Server) handleTraceStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("err", err.Error()))
		return
	}
	defer conn.CloseNow()

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub.ID)

	// Inbound frames are ignored; CloseRead cancels ctx once the client goes away.
	ctx := conn.CloseRead(r.Context())

	s.logger.Info("trace subscriber connected", slog.String("subscriber", sub.ID))
	if err := s.write(ctx, conn, wsOutgoing{Type: "hello", SubscriberID: sub.ID}); err != nil {
		return
	}

	for {
		select {
		case entry, ok := <-sub.Entries:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "relay shutting down")
				return
			}
			if err := s.write(ctx, conn, wsOutgoing{Type: "entry", Entry: &entry}); err != nil {
				s.logger.Info("trace subscriber dropped", slog.String("subscriber", sub.ID), slog.String("err", err.Error()))
				return
			}
		case <-ctx.Done():
			s.logger.Info("trace subscriber disconnected", slog.String("subscriber", sub.ID))
			return
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, msg wsOutgoing) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
