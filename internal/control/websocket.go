package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/edge"
)

// wsReply answers one message received over the websocket.
type wsReply struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *server) websocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			s.log.Debug().Err(err).Msg("websocket read failed")
			return
		}

		var msg edge.Message
		out := wsReply{}
		if err := json.Unmarshal(data, &msg); err != nil {
			out.Error = "invalid message: " + err.Error()
		} else {
			out.Type = msg.Type
			reply, err := s.svc.PostMessage(ctx, msg)
			if err != nil {
				out.Error = err.Error()
			} else {
				out.Data = reply
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			s.log.Error().Err(err).Msg("encode websocket reply")
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			s.log.Debug().Err(err).Msg("websocket write failed")
			return
		}
	}
}
