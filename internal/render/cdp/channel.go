// Package cdp implements the per-tab DevTools command channel.
//
// A Channel carries one outstanding command at a time: Send writes a command
// and AwaitResponse reads frames until the one with the matching id shows up,
// discarding protocol events in between. Pipelining several commands would
// need a pending-id table fed by a background reader; nothing here needs it.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/edgecomet/pdfrender/internal/render/renderr"
)

const (
	// DefaultDialTimeout bounds the websocket handshake when ctx has no deadline.
	DefaultDialTimeout = 5 * time.Second

	closeWriteTimeout = time.Second
)

// Command is one request frame.
type Command struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// Frame is any message received from the browser. Responses carry ID and
// Result or Error; events carry Method and Params and have no ID.
type Frame struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
}

// RemoteError is a command failure reported by the browser.
type RemoteError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("remote error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// Channel is a websocket connection to one tab. It is owned by a single
// render session and is not safe for concurrent use.
type Channel struct {
	addr   string
	conn   net.Conn
	rw     io.ReadWriter
	logger *zap.Logger

	nextID  int64
	skipped int

	closeOnce sync.Once
	closeErr  error
}

// Dial opens a command channel to addr (the tab's webSocketDebuggerUrl).
func Dial(ctx context.Context, addr string, logger *zap.Logger) (*Channel, error) {
	dialer := ws.Dialer{Timeout: DefaultDialTimeout}

	conn, br, _, err := dialer.Dial(ctx, addr)
	if err != nil {
		return nil, renderr.New(renderr.KindTransport, "open channel", err)
	}

	// Frames sent right after the handshake may already sit in br.
	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
	}

	return &Channel{
		addr: addr,
		conn: conn,
		rw: struct {
			io.Reader
			io.Writer
		}{r, conn},
		logger: logger,
	}, nil
}

// Send writes a command with the next id and returns that id.
func (c *Channel) Send(ctx context.Context, method string, params any) (int64, error) {
	c.nextID++
	cmd := Command{ID: c.nextID, Method: method, Params: params}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return 0, renderr.New(renderr.KindTransport, "encode "+method, err)
	}

	release := c.bind(ctx)
	defer release()

	if err := wsutil.WriteClientText(c.conn, payload); err != nil {
		return 0, renderr.New(renderr.KindTransport, "send "+method, err)
	}

	c.logger.Debug("Command sent",
		zap.Int64("command_id", cmd.ID),
		zap.String("method", method),
		zap.Int("bytes", len(payload)))

	return cmd.ID, nil
}

// AwaitResponse reads frames until the response for id arrives and returns
// its result object. Frames for other ids, events and undecodable frames are
// skipped.
func (c *Channel) AwaitResponse(ctx context.Context, id int64) (json.RawMessage, error) {
	op := fmt.Sprintf("await response %d", id)

	release := c.bind(ctx)
	defer release()

	for {
		data, opCode, err := wsutil.ReadServerData(c.rw)
		if err != nil {
			return nil, renderr.New(renderr.KindProtocol, op, err)
		}
		if opCode != ws.OpText {
			c.skipped++
			continue
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.skipped++
			c.logger.Debug("Skipping undecodable frame",
				zap.Int64("command_id", id),
				zap.Error(err))
			continue
		}

		if frame.ID != id {
			c.skipped++
			c.logger.Debug("Skipping unrelated frame",
				zap.Int64("command_id", id),
				zap.Int64("frame_id", frame.ID),
				zap.String("method", frame.Method))
			continue
		}

		if frame.Error != nil {
			return nil, renderr.New(renderr.KindProtocol, op, frame.Error)
		}
		return frame.Result, nil
	}
}

// Close sends a close frame and closes the connection. Safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		_ = ws.WriteFrame(c.conn, ws.MaskFrameInPlace(ws.NewCloseFrame(body)))
		c.closeErr = c.conn.Close()
		c.logger.Debug("Command channel closed",
			zap.String("addr", c.Addr()),
			zap.Int64("last_id", c.LastID()),
			zap.Int("skipped_frames", c.Skipped()))
	})
	return c.closeErr
}

// LastID returns the id of the most recently sent command (0 if none).
func (c *Channel) LastID() int64 {
	return c.nextID
}

// Skipped returns how many frames were discarded while awaiting responses.
func (c *Channel) Skipped() int {
	return c.skipped
}

// Addr returns the websocket address the channel is connected to.
func (c *Channel) Addr() string {
	return c.addr
}

// bind makes blocking I/O on the connection honour ctx: the ctx deadline is
// applied to the socket and cancellation forces an immediate timeout.
func (c *Channel) bind(ctx context.Context) func() {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stop()
		_ = c.conn.SetDeadline(time.Time{})
	}
}
