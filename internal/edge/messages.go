package edge

import (
	"context"
	"errors"
	"fmt"

	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/connectivity"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/queue"
)

const (
	MessageSkipWaiting      = "SKIP_WAITING"
	MessageGetOfflineStatus = "GET_OFFLINE_STATUS"
)

var ErrUnknownMessage = errors.New("unknown message type")

type Message struct {
	Type string `json:"type"`
}

type OfflineStatus struct {
	IsOnline          bool `json:"isOnline"`
	HasQueuedRequests bool `json:"hasQueuedRequests"`
}

type messageHandler struct {
	lifecycle *Lifecycle
	monitor   *connectivity.Monitor
	queue     *queue.Queue
}

func (h *messageHandler) status(ctx context.Context) (OfflineStatus, error) {
	pending, err := h.queue.HasPending(ctx)
	if err != nil {
		return OfflineStatus{}, fmt.Errorf("read queue: %w", err)
	}
	return OfflineStatus{IsOnline: h.monitor.Online(), HasQueuedRequests: pending}, nil
}

func (h *messageHandler) handle(ctx context.Context, ev Event) error {
	switch ev.Message.Type {
	case MessageSkipWaiting:
		return h.lifecycle.SkipWaiting(ctx)
	case MessageGetOfflineStatus:
		st, err := h.status(ctx)
		if err != nil {
			return err
		}
		if ev.Reply == nil {
			return nil
		}
		return ev.Reply(st)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, ev.Message.Type)
	}
}
