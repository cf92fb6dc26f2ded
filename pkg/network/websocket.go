// pkg/network/websocket.go
package network

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opd-ai/go-ballistics/pkg/event"
	"github.com/opd-ai/go-ballistics/pkg/logging"
)

// WebSocketMessage is the envelope used on WebSocket connections. Type is a
// MessageType name such as "solve_static"; Data is the same JSON payload a
// TCP frame would carry.
type WebSocketMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// The default CheckOrigin accepts requests without an Origin header and
// same-host browser requests.
var upgrader = websocket.Upgrader{
	EnableCompression: true,
}

// HandleWebSocket serves the solve protocol over a WebSocket connection for
// clients that cannot open raw TCP sockets.
func (s *AimServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "server stopped", http.StatusServiceUnavailable)
		return
	}
	if s.ClientCount() >= s.serviceCfg.MaxClients {
		s.logger.Warn(s.ctx, "rejecting websocket, server full", "remote", r.RemoteAddr)
		http.Error(w, "server full", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn(s.ctx, "websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(MaxPayloadSize + 1024)

	client := &Client{
		ID:          logging.GenerateCorrelationID(),
		Conn:        ws.NetConn(),
		ConnectedAt: time.Now(),
	}
	ctx := logging.WithCorrelationID(s.ctx, client.ID)

	s.addClient(client)
	defer s.removeClient(ctx, client)
	if ctx.Err() != nil {
		return
	}

	s.logger.Info(ctx, "websocket client connected", "remote", r.RemoteAddr)
	s.events.Publish(event.NewClientEvent(event.ClientConnected, s, client.ID, r.RemoteAddr))

	for {
		ws.SetReadDeadline(time.Now().Add(s.serviceCfg.ReadTimeout.Std()))

		var msg WebSocketMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn(ctx, "websocket read failed", "error", err)
			}
			return
		}

		msgType, ok := ParseMessageType(msg.Type)
		if !ok {
			// An out-of-range type gets the same unknown_type answer a TCP
			// client would receive.
			msgType = MessageType(255)
		}
		if msgType == DisconnectNotification {
			s.logger.Info(ctx, "websocket client disconnecting")
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.serviceCfg.WriteTimeout.Std()))
			return
		}

		respType, resp := s.handleMessage(ctx, client.ID, msgType, msg.Data)
		if err := s.sendWebSocket(ws, client, respType, resp); err != nil {
			s.logger.Warn(ctx, "error writing websocket response", "error", err)
			return
		}
	}
}

func (s *AimServer) sendWebSocket(ws *websocket.Conn, client *Client, msgType MessageType, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	client.writeLock.Lock()
	defer client.writeLock.Unlock()

	ws.SetWriteDeadline(time.Now().Add(s.serviceCfg.WriteTimeout.Std()))
	return ws.WriteJSON(WebSocketMessage{Type: msgType.String(), Data: data})
}
