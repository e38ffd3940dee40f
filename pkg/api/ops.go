package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/teamsquare/sentinelle/pkg/security"
	"github.com/teamsquare/sentinelle/pkg/telemetry"
)

// stateBroadcastInterval is how often connected dashboards receive a fresh
// system state snapshot.
const stateBroadcastInterval = 5 * time.Second

// OpsServer is the operator-facing side channel: Prometheus metrics and a
// websocket feed of the system state. It is served on its own listener so
// dashboards never contend with the screening path.
type OpsServer struct {
	server  *http.Server
	state   *security.StateManager
	metrics *telemetry.Metrics
	log     *logrus.Logger

	upgrader websocket.Upgrader
}

// NewOpsServer builds the ops HTTP server on addr.
func NewOpsServer(addr string, state *security.StateManager, metrics *telemetry.Metrics, log *logrus.Logger) *OpsServer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	o := &OpsServer{
		state:   state,
		metrics: metrics,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", o.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", o.handleWebSocket)

	o.server = &http.Server{Addr: addr, Handler: r}
	return o
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (o *OpsServer) Start(ctx context.Context) error {
	o.log.WithField("addr", o.server.Addr).Info("ops server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := o.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return o.server.Shutdown(shutdownCtx)
}

func (o *OpsServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": Version})
}

// handleWebSocket streams system state snapshots to a dashboard every
// broadcast interval until the client goes away.
func (o *OpsServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		o.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()
	o.log.WithField("remote", conn.RemoteAddr().String()).Info("dashboard connected")

	// Drain client frames so pings and close messages are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(stateBroadcastInterval)
	defer ticker.Stop()

	if err := o.writeSnapshot(conn); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := o.writeSnapshot(conn); err != nil {
				return
			}
		}
	}
}

func (o *OpsServer) writeSnapshot(conn *websocket.Conn) error {
	snapshot := o.state.Snapshot()
	payload := map[string]any{
		"type":      "system_state",
		"state":     snapshot,
		"timestamp": time.Now().UTC(),
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(payload)
}
