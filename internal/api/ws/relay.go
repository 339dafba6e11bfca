package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/AgentOS/execstream/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/domain/registry"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/paths"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	commandTimeout = 30 * time.Second
	maxMessageSize = utils.MaxCodeSize + 64*1024
)

var errEmptyFrame = errors.New("send requires a data frame")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Relay streams one session to a WebSocket client: a snapshot first, then
// deltas as the view changes. Clients drive the session with commands on
// the same socket.
type Relay struct {
	registry *registry.Registry
	metrics  *monitoring.Metrics
	logger   *zap.Logger

	pingPeriod time.Duration
	pongWait   time.Duration
}

// NewRelay creates a relay serving sessions from reg
func NewRelay(reg *registry.Registry, metrics *monitoring.Metrics, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		registry:   reg,
		metrics:    metrics,
		logger:     logger.Named("ws"),
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
	}
}

// HandleConnection subscribes to the :uuid session and upgrades the request.
// Subscription failures are answered as plain HTTP errors.
func (r *Relay) HandleConnection(c *gin.Context) {
	uuid := c.Param("uuid")
	if err := paths.ValidateUUID(uuid); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	handle, err := r.registry.Subscribe(c.Request.Context(), uuid)
	if err != nil {
		c.JSON(apihttp.StatusFor(err), gin.H{"error": err.Error(), "kind": types.KindLabel(err)})
		return
	}
	defer func() {
		if err := handle.Close(); err != nil {
			r.logger.Warn("Failed to release relay handle", zap.String("uuid", uuid), zap.Error(err))
		}
	}()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.logger.Warn("WebSocket upgrade failed", zap.String("uuid", uuid), zap.Error(err))
		return
	}
	defer conn.Close()

	r.metrics.IncWSConnections()
	defer r.metrics.DecWSConnections()

	logger := r.logger.With(zap.String("uuid", uuid), zap.String("token", handle.Token().String()))
	logger.Debug("Relay client connected")

	ctx, cancel := context.WithCancel(c.Request.Context())
	s := &relaySession{
		relay:  r,
		conn:   conn,
		handle: handle,
		logger: logger,
		out:    make(chan ServerMessage, 16),
	}

	var wg sync.WaitGroup
	readDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(readDone)
		s.readLoop(ctx)
	}()

	s.writeLoop(ctx, readDone)

	cancel()
	_ = conn.Close()
	wg.Wait()
	logger.Debug("Relay client disconnected")
}

type relaySession struct {
	relay  *Relay
	conn   *websocket.Conn
	handle *registry.Handle
	logger *zap.Logger
	out    chan ServerMessage
}

// writeLoop owns every write on the socket.
func (s *relaySession) writeLoop(ctx context.Context, readDone <-chan struct{}) {
	var tr tracker
	if err := s.send(tr.snapshot(s.handle.View())); err != nil {
		return
	}

	ticker := time.NewTicker(s.relay.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case _, ok := <-s.handle.Updates():
			if !ok {
				s.closeSession()
				return
			}
			if msg, changed := tr.delta(s.handle.View()); changed {
				if err := s.send(msg); err != nil {
					return
				}
			}
		case msg := <-s.out:
			if err := s.send(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-s.handle.Done():
			s.closeSession()
			return
		case <-readDone:
			return
		case <-ctx.Done():
			return
		}
	}
}

// closeSession tells the client its session was torn down.
func (s *relaySession) closeSession() {
	msg := newMessage(TypeClosed)
	msg.UUID = s.handle.UUID()
	msg.Message = "session torn down"
	if err := s.send(msg); err != nil {
		return
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
		time.Now().Add(writeWait))
}

func (s *relaySession) send(msg ServerMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to encode relay message", zap.String("type", msg.Type), zap.Error(err))
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("Relay write failed", zap.Error(err))
		return err
	}
	s.relay.metrics.RecordWSMessage("out", msg.Type)
	return nil
}

func (s *relaySession) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.relay.pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.relay.pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("Relay read error", zap.Error(err))
			}
			return
		}

		var cmd Command
		var reply ServerMessage
		if err := sonic.Unmarshal(data, &cmd); err != nil {
			s.relay.metrics.RecordWSMessage("in", "invalid")
			reply = errorMessage(cmd, fmt.Errorf("invalid command: %w", err))
		} else {
			s.relay.metrics.RecordWSMessage("in", cmd.Type)
			reply = s.dispatch(ctx, cmd)
		}

		select {
		case s.out <- reply:
		case <-ctx.Done():
			return
		}
	}
}

func (s *relaySession) dispatch(ctx context.Context, cmd Command) ServerMessage {
	if cmd.Type == CommandPing {
		reply := newMessage(TypePong)
		reply.ID = cmd.ID
		return reply
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	reply := newMessage(TypeResult)
	reply.ID = cmd.ID
	reply.Op = cmd.Type

	var err error
	switch cmd.Type {
	case CommandExecute:
		reply.MsgID, err = s.handle.Execute(ctx, cmd.Code)
	case CommandInterrupt:
		err = s.handle.Interrupt(ctx)
	case CommandRestart:
		err = s.handle.Restart(ctx)
	case CommandSend:
		if len(cmd.Data) == 0 {
			err = errEmptyFrame
		} else if err = utils.NewJSONSizeValidator(utils.MaxFrameSize).ValidateJSON(cmd.Data); err == nil {
			err = s.handle.Send(ctx, cmd.Data)
		}
	default:
		err = fmt.Errorf("unknown command type %q", cmd.Type)
	}

	if err != nil {
		return errorMessage(cmd, err)
	}
	return reply
}

func errorMessage(cmd Command, err error) ServerMessage {
	msg := newMessage(TypeError)
	msg.ID = cmd.ID
	msg.Op = cmd.Type
	msg.Kind = types.KindLabel(err)
	msg.Message = err.Error()
	return msg
}
