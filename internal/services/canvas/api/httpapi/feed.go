package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
	"github.com/mosaicforge/tessella/internal/services/canvas/storage"
)

const (
	// feedReplayPage is the journal page size used to catch a subscriber up.
	feedReplayPage = 256

	// feedWriteTimeout bounds one message write to a subscriber.
	feedWriteTimeout = 10 * time.Second
)

func toEventJSON(evt storage.Event) eventJSON {
	return eventJSON{
		Seq:        evt.Seq,
		Height:     evt.Height,
		Type:       evt.Type,
		OccurredAt: evt.OccurredAt,
		Payload:    json.RawMessage(evt.Payload),
	}
}

// handleFeed streams the event journal over a WebSocket: first a replay of
// events after the requested sequence, then the live stream. Slow subscribers
// lose live events rather than stalling the canvas; they can rejoin with
// ?after= to recover.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument,
				"after is not an unsigned integer"))
			return
		}
		after = parsed
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "feed terminated")

	s.metrics.FeedSubscriberAdded()
	defer s.metrics.FeedSubscriberRemoved()

	// The feed never reads application messages; CloseRead surfaces the
	// client going away as context cancellation.
	ctx := conn.CloseRead(r.Context())

	// Subscribe before replaying so nothing falls between the journal read
	// and the live stream. Overlap is dropped by sequence below.
	live := s.hub.Subscribe(s.cfg.FeedBuffer)
	defer s.hub.Unsubscribe(live)

	last := after
	for {
		page, err := s.engine.EventsAfter(ctx, last, feedReplayPage)
		if err != nil {
			return
		}
		for _, evt := range page {
			if err := writeEvent(ctx, conn, evt); err != nil {
				return
			}
			last = evt.Seq
		}
		if len(page) < feedReplayPage {
			break
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case evt, ok := <-live:
			if !ok {
				// Hub shutdown or this subscriber fell behind and was dropped.
				conn.Close(websocket.StatusGoingAway, "stream reset; reconnect with after=")
				return
			}
			if evt.Seq <= last {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return
			}
			last = evt.Seq
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt storage.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, toEventJSON(evt))
}
