package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/slidestream-backend/internal/modules/lectures/summaries"
)

// sseWriter writes summary events to a gin response.
type sseWriter struct {
	w gin.ResponseWriter
}

func startSSE(c *gin.Context) *sseWriter {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
	return &sseWriter{w: c.Writer}
}

func (s *sseWriter) Send(ev summaries.Event) error {
	var b strings.Builder
	if ev.Name != summaries.EventMessage {
		fmt.Fprintf(&b, "event: %s\n", ev.Name)
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	if _, err := s.w.WriteString(b.String()); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

// streamTo wires a request to a switchable sink that stops writing once the
// client goes away. The returned stop func must run before the handler returns.
func streamTo(c *gin.Context) (*summaries.SwitchSink, func()) {
	sink := summaries.NewSwitchSink(startSSE(c))
	done := make(chan struct{})
	go func() {
		select {
		case <-c.Request.Context().Done():
			sink.Disconnect()
		case <-done:
		}
	}()
	return sink, func() {
		close(done)
		sink.Disconnect()
	}
}
