package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

var errStreamingUnsupported = errors.New("streaming not supported")

// eventStream writes server-sent events to a gin response.
type eventStream struct {
	c       *gin.Context
	flusher http.Flusher
}

func newEventStream(c *gin.Context) (*eventStream, error) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	return &eventStream{c: c, flusher: flusher}, nil
}

func (s *eventStream) send(event string, payload interface{}) error {
	var data []byte
	switch v := payload.(type) {
	case string:
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			return err
		}
	}
	if event != "" {
		if _, err := fmt.Fprintf(s.c.Writer, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
