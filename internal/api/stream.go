package api

import (
	"encoding/json"
	"net/http"

	"shopping-assistant/internal/chat"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// sseWriter streams turn events as server-sent events. Headers are written
// on the first event so errors raised before a turn starts can still be
// answered with a plain JSON status.
type sseWriter struct {
	c       *gin.Context
	started bool
	logger  *zap.Logger
}

func newSSEWriter(c *gin.Context, logger *zap.Logger) *sseWriter {
	return &sseWriter{c: c, logger: logger}
}

func (w *sseWriter) start() {
	header := w.c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Vercel-AI-UI-Message-Stream", "v1")
	w.c.Status(http.StatusOK)
	w.c.Writer.WriteHeaderNow()
	w.started = true
}

// Emit implements chat.EventSink
func (w *sseWriter) Emit(e chat.Event) {
	b, err := json.Marshal(e)
	if err != nil {
		w.logger.Error("Failed to encode stream event", zap.String("type", e.Type), zap.Error(err))
		return
	}
	w.write(b)
}

func (w *sseWriter) write(payload []byte) {
	if !w.started {
		w.start()
	}
	buf := make([]byte, 0, len(payload)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, payload...)
	buf = append(buf, "\n\n"...)
	if _, err := w.c.Writer.Write(buf); err != nil {
		w.logger.Debug("Stream write failed", zap.Error(err))
		return
	}
	w.c.Writer.Flush()
}

// Close terminates the stream
func (w *sseWriter) Close() {
	if w.started {
		w.write([]byte("[DONE]"))
	}
}

// stream runs fn with an SSE sink. An error before the first event is
// answered as JSON; after that the turn has already reported it in-stream.
func (h *Handler) stream(c *gin.Context, fallback string, fn func(sink chat.EventSink) error) {
	sink := newSSEWriter(c, h.logger)
	err := fn(sink)
	if err != nil && !sink.started {
		h.writeError(c, err, fallback)
		return
	}
	if err != nil {
		h.logger.Warn(fallback, zap.Error(err))
	}
	sink.Close()
}
