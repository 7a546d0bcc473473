package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/stream"
)

// maxClientFrame bounds the frames a feed client may send.
const maxClientFrame = 4 << 10

// events upgrades to a websocket and streams lifecycle events of the
// requested topics as text frames, one JSON stream.Event per frame. With
// no topic it streams the firehose; type parameters narrow the feed to
// those event types. Client frames are ignored apart from close.
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		topics = []string{stream.TopicFirehose}
	}
	for _, topic := range topics {
		if err := stream.ValidateTopic(topic); err != nil {
			a.respondError(w, r, jobq.NewValidationError("topic", err.Error()))
			return
		}
	}

	var types []stream.EventType
	for _, t := range r.URL.Query()["type"] {
		types = append(types, stream.EventType(t))
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		a.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	broker := a.eng.Events()
	subID := "api-" + uuid.NewString()
	sub := broker.Subscribe(subID, topics...)
	defer broker.RemoveSubscriber(subID)
	if len(types) > 0 {
		sub.SetFilter(stream.OnlyTypes(types...))
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Frames from the reader (pong, close) and the event loop share conn.
	var wmu sync.Mutex
	write := func(op ws.OpCode, p []byte) error {
		wmu.Lock()
		defer wmu.Unlock()
		return wsutil.WriteServerMessage(conn, op, p)
	}

	go func() {
		defer cancel()
		for {
			hdr, err := ws.ReadHeader(conn)
			if err != nil || hdr.Length > maxClientFrame {
				return
			}
			payload := make([]byte, hdr.Length)
			if _, err := io.ReadFull(conn, payload); err != nil {
				return
			}
			if hdr.Masked {
				ws.Cipher(payload, hdr.Mask, 0)
			}
			switch hdr.OpCode {
			case ws.OpPing:
				_ = write(ws.OpPong, payload)
			case ws.OpClose:
				_ = write(ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
				return
			}
		}
	}()

	a.logger.Debug("event subscriber connected",
		slog.String("subscriber", subID),
		slog.Any("topics", topics),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				_ = write(ws.OpClose, ws.NewCloseFrameBody(ws.StatusGoingAway, "shutdown"))
				return
			}
			sub.AddCredits(1)
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if err := write(ws.OpText, data); err != nil {
				return
			}
		}
	}
}
