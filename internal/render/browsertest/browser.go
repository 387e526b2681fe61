// Package browsertest provides a scripted stand-in for a DevTools-enabled
// browser: the /json control plane plus per-tab websocket command channels.
package browsertest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Method names as sent by the render workflow.
const (
	MethodSetDocumentContent = "Page.setDocumentContent"
	MethodPrintToPDF         = "Page.printToPDF"
)

// Command is a command received on a tab's channel.
type Command struct {
	TabID  string          `json:"-"`
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Handler reacts to one command. It runs on the tab's read loop, so blocking
// in it stalls that tab only.
type Handler func(s *Session, cmd Command)

// CreateHook may take over a /json/new request. Returning true means the hook
// wrote the response.
type CreateHook func(w http.ResponseWriter, r *http.Request, n int) bool

// Browser is a running mock browser.
type Browser struct {
	server *httptest.Server

	handler    Handler
	createHook CreateHook
	wsHost     string

	mu       sync.Mutex
	tabSeq   int
	open     map[string]bool
	calls    []string
	commands []Command
	closed   []string
	dials    int
	conns    map[net.Conn]struct{}
}

// Option configures a Browser.
type Option func(*Browser)

// WithHandler replaces the default command handler.
func WithHandler(h Handler) Option {
	return func(b *Browser) { b.handler = h }
}

// WithPDF makes the default handler answer prints with pdf.
func WithPDF(pdf []byte) Option {
	return func(b *Browser) { b.handler = PrintsPDF(pdf) }
}

// WithCreateHook intercepts tab creation.
func WithCreateHook(h CreateHook) Option {
	return func(b *Browser) { b.createHook = h }
}

// WithWebSocketHost overrides the host advertised in webSocketDebuggerUrl,
// e.g. to point tabs at an address where nothing listens.
func WithWebSocketHost(host string) Option {
	return func(b *Browser) { b.wsHost = host }
}

// TB is the part of testing.TB the mock needs; GinkgoT() satisfies it too.
type TB interface {
	Cleanup(func())
}

// New starts a mock browser and registers its shutdown with t.Cleanup.
func New(t TB, opts ...Option) *Browser {
	b := &Browser{
		handler: PrintsPDF([]byte("%PDF-1.7\n%mock\n")),
		open:    make(map[string]bool),
		conns:   make(map[net.Conn]struct{}),
	}
	for _, o := range opts {
		o(b)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/new", b.handleNew)
	mux.HandleFunc("GET /json/close/{id}", b.handleClose)
	mux.HandleFunc("GET /json/version", b.handleVersion)
	mux.HandleFunc("GET /devtools/page/{id}", b.handlePage)

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

// Endpoint is the control plane base URL.
func (b *Browser) Endpoint() string {
	return b.server.URL
}

// PageURL is the websocket address of a tab's command channel.
func (b *Browser) PageURL(tabID string) string {
	return "ws://" + strings.TrimPrefix(b.server.URL, "http://") + "/devtools/page/" + tabID
}

// Close drops every websocket and stops the server.
func (b *Browser) Close() {
	b.mu.Lock()
	for c := range b.conns {
		_ = c.Close()
	}
	b.mu.Unlock()
	b.server.Close()
}

// Creates returns the number of /json/new calls.
func (b *Browser) Creates() int {
	return b.count("create:")
}

// Closes returns the number of /json/close calls.
func (b *Browser) Closes() int {
	return b.count("close:")
}

// Dials returns the number of websocket connections accepted.
func (b *Browser) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// ClosedTabs lists tab ids in the order they were closed.
func (b *Browser) ClosedTabs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.closed...)
}

// OpenTabs returns the number of tabs created and not yet closed.
func (b *Browser) OpenTabs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open)
}

// Calls returns the ordered log of control plane and channel events,
// e.g. "create:TAB1", "dial:TAB1", "close:TAB1".
func (b *Browser) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Commands returns every command received, in arrival order.
func (b *Browser) Commands() []Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Command(nil), b.commands...)
}

// OpenTab creates a tab directly, bypassing the HTTP API.
func (b *Browser) OpenTab() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tabSeq++
	id := fmt.Sprintf("TAB%d", b.tabSeq)
	b.open[id] = true
	return id
}

func (b *Browser) count(prefix string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (b *Browser) record(call string) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
}

func (b *Browser) handleNew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Using unsafe HTTP verb GET to invoke /json/new. This action supports only PUT verb.", http.StatusMethodNotAllowed)
		return
	}

	b.mu.Lock()
	b.tabSeq++
	n := b.tabSeq
	id := fmt.Sprintf("TAB%d", n)
	b.mu.Unlock()

	if b.createHook != nil && b.createHook(w, r, n) {
		b.record(fmt.Sprintf("create:%s", id))
		return
	}

	b.mu.Lock()
	b.open[id] = true
	b.mu.Unlock()
	b.record("create:" + id)

	host := b.wsHost
	if host == "" {
		host = r.Host
	}
	writeJSON(w, map[string]string{
		"id":                   id,
		"type":                 "page",
		"url":                  "about:blank",
		"webSocketDebuggerUrl": fmt.Sprintf("ws://%s/devtools/page/%s", host, id),
	})
}

func (b *Browser) handleClose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b.record("close:" + id)

	b.mu.Lock()
	known := b.open[id]
	delete(b.open, id)
	if known {
		b.closed = append(b.closed, id)
	}
	b.mu.Unlock()

	if !known {
		http.Error(w, "No such target id: "+id, http.StatusNotFound)
		return
	}
	_, _ = w.Write([]byte("Target is closing"))
}

func (b *Browser) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"Browser":              "HeadlessChrome/131.0.6778.85",
		"Protocol-Version":     "1.3",
		"User-Agent":           "Mozilla/5.0 HeadlessChrome/131.0.6778.85",
		"webSocketDebuggerUrl": fmt.Sprintf("ws://%s/devtools/browser/mock", r.Host),
	})
}

func (b *Browser) handlePage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	b.mu.Lock()
	known := b.open[id]
	b.mu.Unlock()
	if !known {
		http.Error(w, "No such target id: "+id, http.StatusNotFound)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}

	b.mu.Lock()
	b.dials++
	b.conns[conn] = struct{}{}
	b.calls = append(b.calls, "dial:"+id)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		_ = conn.Close()
	}()

	s := &Session{TabID: id, conn: conn}
	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		cmd.TabID = id

		b.mu.Lock()
		b.commands = append(b.commands, cmd)
		b.mu.Unlock()

		b.handler(s, cmd)
		if s.isClosed() {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Session is the browser side of one tab's channel.
type Session struct {
	TabID string

	conn   net.Conn
	mu     sync.Mutex
	closed bool
}

// Reply sends a response frame for id with the given result object.
func (s *Session) Reply(id int64, result any) error {
	return s.send(map[string]any{"id": id, "result": result})
}

// ReplyError sends an error response frame for id.
func (s *Session) ReplyError(id int64, code int64, message string) error {
	return s.send(map[string]any{"id": id, "error": map[string]any{"code": code, "message": message}})
}

// Event sends an unsolicited protocol event.
func (s *Session) Event(method string, params any) error {
	return s.send(map[string]any{"method": method, "params": params})
}

// Raw sends text as-is.
func (s *Session) Raw(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wsutil.WriteServerText(s.conn, []byte(text))
}

// Hangup closes the channel with a normal close frame.
func (s *Session) Hangup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = ws.WriteFrame(s.conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
	_ = s.conn.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return wsutil.WriteServerText(s.conn, data)
}

// PrintsPDF acknowledges content with an interleaved event and answers
// prints with base64(pdf).
func PrintsPDF(pdf []byte) Handler {
	return PrintsResult(map[string]any{"data": base64.StdEncoding.EncodeToString(pdf)})
}

// PrintsResult acknowledges content and answers prints with result.
func PrintsResult(result any) Handler {
	return func(s *Session, cmd Command) {
		switch cmd.Method {
		case MethodSetDocumentContent:
			_ = s.Event("Page.lifecycleEvent", map[string]any{"name": "DOMContentLoaded"})
			_ = s.Reply(cmd.ID, map[string]any{})
		case MethodPrintToPDF:
			_ = s.Event("Page.frameStoppedLoading", map[string]any{"frameId": s.TabID})
			_ = s.Reply(cmd.ID, result)
		default:
			_ = s.ReplyError(cmd.ID, -32601, fmt.Sprintf("'%s' wasn't found", cmd.Method))
		}
	}
}

// Silent never answers anything.
func Silent() Handler {
	return func(*Session, Command) {}
}

// PrintParams decodes the params of a recorded print command.
func PrintParams(cmd Command) (map[string]any, error) {
	var p map[string]any
	err := json.Unmarshal(cmd.Params, &p)
	return p, err
}
