package server

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/revit3d/WebEnsemble/pkg/log"
	"github.com/revit3d/WebEnsemble/service/tasks"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// wsConn serialises writes from the handler and the job workers.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) send(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

// fitChannel reads model ids as text frames and submits a fit for each.
// Progress notifications are written back as JSON frames.
func (s *Server) fitChannel(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", log.ErrAttrKey, err)
		return
	}
	ws := &wsConn{conn: conn}
	defer conn.Close()

	ctx := c.Request.Context()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("fit channel closed", log.ErrAttrKey, err)
			return
		}
		id := strings.TrimSpace(string(msg))

		notify := func(n tasks.Notification) {
			if err := ws.send(n); err != nil {
				s.logger.Debug("dropping notification", log.JobIDKey, n.ModelID, log.JobEventKey, n.Event, log.ErrAttrKey, err)
			}
		}
		if err := s.runner.Submit(ctx, id, notify); err != nil {
			notify(tasks.Notification{ModelID: id, Event: tasks.EventFailed, Error: err.Error()})
		}
	}
}
