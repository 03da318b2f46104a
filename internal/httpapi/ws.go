package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/callcoach/internal/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 1 << 20
	wsCloseGrace   = 2 * time.Second
)

// handleCallWS streams the call's coaching events and accepts transcript,
// speaking and alternatives messages from the client.
func (s *Server) handleCallWS(w http.ResponseWriter, r *http.Request) {
	callID, ok := s.requireActive(w, r)
	if !ok {
		return
	}

	events, unsubscribe := s.coach.Subscribe(callID)
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ObserveSessionEvent("ws_connected")
	logger := s.logger.With("call_id", callID)
	logger.Debug("websocket connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Errors raised by the read loop go through the writer so writes stay
	// single-threaded.
	replies := make(chan protocol.Event, 16)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			var evt protocol.Event
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					cancel()
					return
				}
				continue
			case e, ok := <-events:
				if !ok {
					// call stopped or engine shut down
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
						time.Now().Add(wsWriteTimeout))
					_ = conn.SetReadDeadline(time.Now().Add(wsCloseGrace))
					cancel()
					return
				}
				evt = e
			case e := <-replies:
				evt = e
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				s.metrics.ObserveSessionEvent("ws_write_error")
				cancel()
				return
			}
			s.metrics.ObserveWSMessage("outbound", string(evt.Type))
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	reply := func(code, detail string) {
		select {
		case replies <- protocol.NewEvent(callID, protocol.EventError, protocol.ErrorData{Code: code, Detail: detail}):
		default:
			s.metrics.ObserveDroppedEvent()
		}
	}

	for ctx.Err() == nil {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			reply("invalid_client_message", err.Error())
			continue
		}
		switch m := parsed.(type) {
		case protocol.ClientTranscript:
			s.metrics.ObserveWSMessage("inbound", string(m.Type))
			s.dispatch(callID, m)
		case protocol.ClientSpeaking:
			s.metrics.ObserveWSMessage("inbound", string(m.Type))
			s.dispatch(callID, m)
		case protocol.ClientAlternatives:
			s.metrics.ObserveWSMessage("inbound", string(m.Type))
			// Lines arrive on the event stream; only failures are answered here.
			go func(m protocol.ClientAlternatives) {
				if _, err := s.coach.GetAlternatives(ctx, callID, m.Mode, m.Count); err != nil {
					reply("alternatives_failed", err.Error())
				}
			}(m)
		}
	}

	cancel()
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
	logger.Debug("websocket disconnected")
}
