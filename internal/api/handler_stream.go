package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"library-occupancy-backend/internal/hub"
)

// sseConn adapts one SSE client to the hub. Send never blocks; a consumer
// that cannot keep up is dropped by the hub.
type sseConn struct {
	id string
	ch chan hub.Message
}

func newSSEConn() *sseConn {
	return &sseConn{id: uuid.NewString(), ch: make(chan hub.Message, 16)}
}

func (c *sseConn) ID() string { return c.id }

func (c *sseConn) Send(m hub.Message) error {
	select {
	case c.ch <- m:
		return nil
	default:
		return errors.New("slow consumer")
	}
}

// Stream attaches the client to the hub over server-sent events. The
// optional occupant query parameter subscribes the connection to that
// occupant's unicast topics as well.
func (h *Handler) Stream(c *gin.Context) {
	var occupantID int64
	if raw := c.Query("occupant"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid occupant id"})
			return
		}
		occupantID = v
	}

	conn := newSSEConn()
	h.hub.Attach(conn, occupantID)
	defer h.hub.Detach(conn)

	c.Writer.Header().Set("Cache-Control", "no-cache")

	// Initial snapshot so the client renders without waiting for a change.
	c.SSEvent(hub.TopicOccupancyUpdate, h.engine.GetState())
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg := <-conn.ch:
			c.SSEvent(msg.Topic, msg.Data)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
