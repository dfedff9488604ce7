package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NodePath81/netcap/internal/metrics"
	"github.com/NodePath81/netcap/internal/risk"
)

const (
	streamSchemaVersion = 1
	streamSendBuffer    = 32
	maxStreamReadBytes  = 1 << 16
)

var errStreamClosed = errors.New("stream closed")

type streamRequest struct {
	Type   string      `json:"type"`
	Params sweepParams `json:"params"`
}

type streamMessage struct {
	SchemaVersion int           `json:"schema_version"`
	Type          string        `json:"type"`
	Row           *risk.Result  `json:"row,omitempty"`
	Worst         risk.Severity `json:"worst,omitempty"`
	Rows          int           `json:"rows,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// sweepStream owns one websocket connection. Only writeLoop writes to conn.
type sweepStream struct {
	server *ControlServer
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	wdone  chan struct{}
}

func (c *ControlServer) handleSweepStream(w http.ResponseWriter, r *http.Request) {
	if !c.checkStreamAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	upgrader := websocket.Upgrader{
		CheckOrigin:  originAllowed,
		Subprotocols: []string{wsPrimaryProtocol},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Debug("sweep stream upgrade failed", "error", err)
		return
	}
	c.metrics.StreamOpened()
	defer c.metrics.StreamClosed()

	s := &sweepStream{
		server: c,
		conn:   conn,
		send:   make(chan []byte, streamSendBuffer),
		done:   make(chan struct{}),
		wdone:  make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.writeLoop(ctx)
	s.readLoop()
	close(s.done)
}

func (s *sweepStream) readLoop() {
	s.conn.SetReadLimit(maxStreamReadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var req streamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if s.emit(streamMessage{Type: "error", Error: "invalid json"}) != nil {
				return
			}
			continue
		}
		if req.Type != "sweep" {
			if s.emit(streamMessage{Type: "error", Error: "unknown message type"}) != nil {
				return
			}
			continue
		}
		if err := s.runSweep(req.Params); errors.Is(err, errStreamClosed) {
			return
		}
	}
}

// runSweep validates before emitting so a bad request never produces a
// partial row sequence.
func (s *sweepStream) runSweep(params sweepParams) error {
	c := s.server
	p := params.riskParams()
	c.warnThreshold(p.WarnThreshold)
	worst := risk.SeverityOK
	rows := 0
	err := risk.Each(p, func(res risk.Result) error {
		c.metrics.ObserveRow(res)
		if res.Severity.Worse(worst) {
			worst = res.Severity
		}
		rows++
		row := res
		return s.emit(streamMessage{Type: "row", Row: &row})
	})
	c.metrics.Observe(metrics.OpSweep, err)
	if err != nil {
		if errors.Is(err, errStreamClosed) {
			return err
		}
		return s.emit(streamMessage{Type: "error", Error: err.Error()})
	}
	c.logger.Debug("sweep streamed", "rows", rows, "worst", worst)
	return s.emit(streamMessage{Type: "done", Worst: worst, Rows: rows})
}

func (s *sweepStream) emit(msg streamMessage) error {
	msg.SchemaVersion = streamSchemaVersion
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return errStreamClosed
	case <-s.wdone:
		return errStreamClosed
	}
}

func (s *sweepStream) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		close(s.wdone)
		_ = s.conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
