// Package orchestrator runs one HTML to PDF render end to end: it takes a
// gate slot, opens a tab, drives the tab's command channel and always cleans up.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/pdfrender/internal/render/cdp"
	"github.com/edgecomet/pdfrender/internal/render/controlplane"
	"github.com/edgecomet/pdfrender/internal/render/gate"
	"github.com/edgecomet/pdfrender/internal/render/ledger"
	"github.com/edgecomet/pdfrender/internal/render/renderr"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultCloseTimeout = 2 * time.Second
)

// Request is one accepted render job.
type Request struct {
	RequestID string
	HTML      string
	Landscape bool
}

// Slots hands out render permits.
type Slots interface {
	Acquire(ctx context.Context) (*gate.Permit, error)
}

// TabController creates and closes browser tabs.
type TabController interface {
	CreateTab(ctx context.Context) (controlplane.Tab, error)
	CloseTab(ctx context.Context, tabID string) controlplane.CloseOutcome
}

// CommandChannel is a tab's command connection.
type CommandChannel interface {
	Send(ctx context.Context, method string, params any) (int64, error)
	AwaitResponse(ctx context.Context, id int64) (json.RawMessage, error)
	Close() error
}

// DialFunc opens a command channel to a tab's websocket address.
type DialFunc func(ctx context.Context, addr string) (CommandChannel, error)

// Observer is called on every state transition of a session.
type Observer func(requestID string, from, to State)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout sets the whole-session deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithCloseTimeout bounds the tab close issued during cleanup.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.closeTimeout = d
		}
	}
}

// WithLedger tracks every created tab until it is confirmed closed.
func WithLedger(l ledger.Ledger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.ledger = l
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d DialFunc) Option {
	return func(o *Orchestrator) { o.dial = d }
}

// WithObserver registers a transition hook. Hooks run synchronously.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) {
		o.observers = append(o.observers, fn)
	}
}

// WithCloseHook receives the outcome of every tab close attempt.
func WithCloseHook(fn func(controlplane.CloseOutcome)) Option {
	return func(o *Orchestrator) { o.onClose = fn }
}

// Orchestrator is shared by all requests; each Render call runs its own session.
type Orchestrator struct {
	slots  Slots
	tabs   TabController
	dial   DialFunc
	ledger ledger.Ledger
	logger *zap.Logger

	timeout      time.Duration
	closeTimeout time.Duration
	observers    []Observer
	onClose      func(controlplane.CloseOutcome)
}

func New(slots Slots, tabs TabController, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		slots:        slots,
		tabs:         tabs,
		ledger:       ledger.NopLedger{},
		logger:       logger,
		timeout:      DefaultTimeout,
		closeTimeout: DefaultCloseTimeout,
	}
	o.dial = func(ctx context.Context, addr string) (CommandChannel, error) {
		ch, err := cdp.Dial(ctx, addr, o.logger)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Render produces a PDF for req. Every failure is a *renderr.Error of exactly
// one kind; a tab that was created is closed exactly once either way.
func (o *Orchestrator) Render(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	s := &session{
		o:      o,
		req:    req,
		state:  StateIdle,
		logger: o.logger.With(zap.String("request_id", req.RequestID)),
	}

	data, err := s.run(ctx)
	if err != nil {
		return nil, err
	}

	return NewResult(req.RequestID, s.tab.ID, time.Since(start), data), nil
}

// session is the state of one Render call. It is not shared between goroutines.
type session struct {
	o      *Orchestrator
	req    Request
	state  State
	logger *zap.Logger

	permit    *gate.Permit
	tab       *controlplane.Tab
	ch        CommandChannel
	tabClosed bool
}

func (s *session) run(ctx context.Context) (data []byte, err error) {
	defer func() {
		failedIn := s.state
		timedOut := expired(ctx)
		s.cleanup(ctx)
		if err != nil {
			err = s.classify(timedOut, failedIn, err)
			s.enter(StateFailed)
			return
		}
		s.enter(StateDone)
	}()

	return s.execute(ctx)
}

func (s *session) execute(ctx context.Context) ([]byte, error) {
	s.enter(StateTabCreating)

	permit, err := s.o.slots.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	s.permit = permit

	tab, err := s.o.tabs.CreateTab(ctx)
	if err != nil {
		return nil, err
	}
	s.tab = &tab
	s.logger = s.logger.With(zap.String("tab_id", tab.ID))
	s.record(ctx)

	s.enter(StateChannelOpening)
	ch, err := s.o.dial(ctx, tab.WebSocketDebuggerURL)
	if err != nil {
		return nil, err
	}
	s.ch = ch

	s.enter(StateContentSetting)
	id, err := ch.Send(ctx, cdp.MethodSetDocumentContent, cdp.SetDocumentContent(tab.ID, s.req.HTML))
	if err != nil {
		return nil, err
	}
	if _, err := ch.AwaitResponse(ctx, id); err != nil {
		return nil, err
	}
	s.enter(StateContentAcked)

	s.enter(StatePrinting)
	id, err = ch.Send(ctx, cdp.MethodPrintToPDF, cdp.PrintToPDF(s.req.Landscape))
	if err != nil {
		return nil, err
	}
	result, err := ch.AwaitResponse(ctx, id)
	if err != nil {
		var remote *cdp.RemoteError
		if errors.As(err, &remote) {
			return nil, renderr.New(renderr.KindBrowserRender, "print to pdf", remote)
		}
		return nil, err
	}
	s.enter(StatePrintAcked)

	return cdp.DecodePrintResult(result)
}

// cleanup closes the channel, closes the tab and releases the slot, in that
// order. It runs once per session whatever the outcome.
func (s *session) cleanup(ctx context.Context) {
	s.enter(StateCleanup)

	if s.ch != nil {
		if err := s.ch.Close(); err != nil {
			s.logger.Debug("Channel close failed", zap.Error(err))
		}
	}

	if s.tab != nil && !s.tabClosed {
		s.tabClosed = true

		// The session deadline may already be spent; the close gets its own.
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.o.closeTimeout)
		outcome := s.o.tabs.CloseTab(closeCtx, s.tab.ID)
		cancel()

		if outcome.Gone() {
			s.forget(ctx)
		}
		if s.o.onClose != nil {
			s.o.onClose(outcome)
		}
	}

	if s.permit != nil {
		s.logger.Debug("Render slot released",
			zap.Duration("slot_waited", s.permit.Waited()),
			zap.Duration("slot_held", s.permit.Held()))
	}
	s.permit.Release()
}

func (s *session) classify(timedOut bool, failedIn State, err error) error {
	if timedOut {
		s.logger.Warn("Render timed out",
			zap.Stringer("state", failedIn),
			zap.Duration("timeout", s.o.timeout),
			zap.Error(err))
		if renderr.KindOf(err) == renderr.KindTimeout {
			return err
		}
		return renderr.New(renderr.KindTimeout, failedIn.String(), err)
	}

	if renderr.KindOf(err) == renderr.KindUnknown {
		err = renderr.New(renderr.KindResource, failedIn.String(), err)
	}

	s.logger.Warn("Render failed",
		zap.Stringer("state", failedIn),
		zap.String("error_kind", renderr.KindOf(err).String()),
		zap.Error(err))
	return err
}

// expired reports whether ctx is done. Socket and HTTP deadlines are derived
// from the context deadline and can fire before the context's own timer.
func expired(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	deadline, ok := ctx.Deadline()
	return ok && !time.Now().Before(deadline)
}

func (s *session) enter(to State) {
	from := s.state
	s.state = to
	for _, fn := range s.o.observers {
		fn(s.req.RequestID, from, to)
	}
}

// record runs inside the session deadline so a slow ledger cannot extend it.
func (s *session) record(ctx context.Context) {
	lctx, cancel := context.WithTimeout(ctx, s.o.closeTimeout)
	defer cancel()

	err := s.o.ledger.Record(lctx, ledger.Entry{
		TabID:     s.tab.ID,
		RequestID: s.req.RequestID,
		OpenedAt:  time.Now(),
	})
	if err != nil {
		s.logger.Warn("Failed to record tab in ledger", zap.Error(err))
	}
}

func (s *session) forget(ctx context.Context) {
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.o.closeTimeout)
	defer cancel()

	if err := s.o.ledger.Forget(lctx, s.tab.ID); err != nil {
		s.logger.Warn("Failed to forget tab in ledger", zap.Error(err))
	}
}
