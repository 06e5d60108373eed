package v1

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"signed-uploads/internal/adapter"
	"signed-uploads/internal/logging"
	"signed-uploads/internal/status"
)

const streamWriteTimeout = 5 * time.Second

// statusStream pushes a StatusResponse to the client whenever the list changes.
type statusStream struct {
	list     *status.List
	files    func() []adapter.FileInfo
	logger   logging.Logger
	upgrader websocket.Upgrader
}

func newStatusStream(list *status.List, files func() []adapter.FileInfo, logger logging.Logger) *statusStream {
	return &statusStream{
		list:   list,
		files:  files,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The status server binds to loopback by default.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *statusStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	changes, unsubscribe := s.list.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.send(conn); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-changes:
			if err := s.send(conn); err != nil {
				if s.logger != nil {
					s.logger.Printf("status stream to %s closed: %v", r.RemoteAddr, err)
				}
				return
			}
		}
	}
}

func (s *statusStream) send(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(snapshot(s.list, s.files))
}

func snapshot(list *status.List, files func() []adapter.FileInfo) StatusResponse {
	resp := StatusResponse{Rows: list.Rows(), Errors: list.Errors(), Files: []adapter.FileInfo{}}
	if files != nil {
		resp.Files = files()
	}
	return resp
}
