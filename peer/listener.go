package peer

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// InboundHandler consumes relayed payloads received from a peer. Satisfied by
// delivery.Orchestrator.
type InboundHandler interface {
	HandleInbound(ctx context.Context, raw []byte) error
}

// Listener accepts peer connections on /relay and feeds every received
// envelope to the handler, answering each with an acknowledgement.
type Listener struct {
	handler  InboundHandler
	log      *zap.Logger
	upgrader websocket.Upgrader
	srv      *http.Server
}

func NewListener(addr string, handler InboundHandler, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Listener{
		handler: handler,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/relay", l.handleRelay)
	l.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return l
}

// Start serves until Shutdown is called. It blocks; run it in a goroutine.
func (l *Listener) Start() error {
	l.log.Info("peer listener started", zap.String("addr", l.srv.Addr))
	if err := l.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (l *Listener) Shutdown(ctx context.Context) error {
	return l.srv.Shutdown(ctx)
}

// Handler exposes the relay endpoint for serving over an existing listener,
// mainly in tests.
func (l *Listener) Handler() http.Handler {
	return http.HandlerFunc(l.handleRelay)
}

func (l *Listener) handleRelay(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	l.log.Debug("peer connected", zap.String("remote", r.RemoteAddr))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.log.Debug("peer connection dropped", zap.Error(err))
			}
			return
		}

		receipt := ack{OK: true}
		if err := l.handler.HandleInbound(r.Context(), data); err != nil {
			l.log.Warn("inbound relay rejected", zap.Error(err))
			receipt = ack{OK: false, Error: err.Error()}
		}
		if err := conn.WriteJSON(receipt); err != nil {
			l.log.Warn("writing ack failed", zap.Error(err))
			return
		}
	}
}
