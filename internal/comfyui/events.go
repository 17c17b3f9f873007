package comfyui

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"comfyrun/internal/interfaces"
)

// ErrJobTimeout is returned when the completion wait expires.
var ErrJobTimeout = fmt.Errorf("timed out waiting for job completion")

// OpenEvents dials the push-event channel scoped to clientID.
func (c *Client) OpenEvents(ctx context.Context, clientID string) (interfaces.EventStream, error) {
	wsURL := c.buildURL("ws", "/ws") + "?clientId=" + clientID

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open event channel: %w", err)
	}

	c.logger.WithField("client_id", clientID).Debug("Event channel opened")

	return &eventStream{
		conn:   conn,
		logger: c.logger,
	}, nil
}

// eventStream wraps one websocket connection to the server
type eventStream struct {
	conn   *websocket.Conn
	logger *logrus.Logger
}

// WaitForCompletion consumes frames until the completion signal for
// promptID arrives: an "executing" event whose node is null and whose
// prompt_id matches. Binary frames, unrelated event types, non-null
// nodes and other prompts are all consumed and discarded. The wait is
// bounded by ctx.
func (s *eventStream) WaitForCompletion(ctx context.Context, promptID string) error {
	// ReadMessage blocks without looking at ctx; close the connection
	// from the side when ctx fires so the read unblocks promptly
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-watchDone:
		}
	}()

	for {
		msgType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return classifyWaitError(ctx.Err())
			}
			return fmt.Errorf("event channel closed unexpectedly: %w", err)
		}

		if msgType != websocket.TextMessage {
			continue
		}

		var msg interfaces.EventMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.WithError(err).Debug("Skipping undecodable event frame")
			continue
		}

		if msg.Type != "executing" {
			continue
		}

		var data interfaces.ExecutingData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			s.logger.WithError(err).Debug("Skipping malformed executing event")
			continue
		}

		if data.Node == nil && data.PromptID == promptID {
			s.logger.WithField("prompt_id", promptID).Debug("Completion event received")
			return nil
		}
	}
}

// Close closes the underlying connection
func (s *eventStream) Close() error {
	// best-effort close handshake before tearing down
	deadline := time.Now().Add(time.Second)
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}

func classifyWaitError(err error) error {
	if err == context.DeadlineExceeded {
		return ErrJobTimeout
	}
	return err
}
