package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/edgecomet/pdfrender/internal/render/browsertest"
	"github.com/edgecomet/pdfrender/internal/render/renderr"
)

func dialTab(t *testing.T, opts ...browsertest.Option) (*Channel, *browsertest.Browser) {
	t.Helper()
	b := browsertest.New(t, opts...)
	tabID := b.OpenTab()

	ch, err := Dial(context.Background(), b.PageURL(tabID), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	return ch, b
}

func TestChannel_IDsIncreaseByOne(t *testing.T) {
	ch, b := dialTab(t, browsertest.WithHandler(func(s *browsertest.Session, cmd browsertest.Command) {
		_ = s.Reply(cmd.ID, map[string]any{"echo": cmd.Method})
	}))
	ctx := context.Background()

	var ids []int64
	for _, method := range []string{"A.one", "B.two", "C.three"} {
		id, err := ch.Send(ctx, method, map[string]any{})
		require.NoError(t, err)
		_, err = ch.AwaitResponse(ctx, id)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	assert.Equal(t, []int64{1, 2, 3}, ids)
	assert.Equal(t, int64(3), ch.LastID())

	cmds := b.Commands()
	require.Len(t, cmds, 3)
	for i, cmd := range cmds {
		assert.Equal(t, int64(i+1), cmd.ID)
	}
}

func TestChannel_AwaitSkipsUnrelatedFrames(t *testing.T) {
	ch, _ := dialTab(t, browsertest.WithHandler(func(s *browsertest.Session, cmd browsertest.Command) {
		_ = s.Event("Page.lifecycleEvent", map[string]any{"name": "init"})
		_ = s.Reply(cmd.ID+100, map[string]any{"wrong": true})
		_ = s.Raw("not json at all")
		_ = s.Event("Network.loadingFinished", map[string]any{})
		_ = s.Reply(cmd.ID, map[string]any{"right": true})
	}))
	ctx := context.Background()

	id, err := ch.Send(ctx, "Page.enable", nil)
	require.NoError(t, err)

	result, err := ch.AwaitResponse(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"right":true}`, string(result))
	assert.Equal(t, 4, ch.Skipped())
}

func TestChannel_AwaitRemoteError(t *testing.T) {
	ch, _ := dialTab(t, browsertest.WithHandler(func(s *browsertest.Session, cmd browsertest.Command) {
		_ = s.ReplyError(cmd.ID, -32000, "No frame for given id found")
	}))
	ctx := context.Background()

	id, err := ch.Send(ctx, MethodSetDocumentContent, SetDocumentContent("nope", "<p>x</p>"))
	require.NoError(t, err)

	_, err = ch.AwaitResponse(ctx, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, renderr.ErrProtocol)

	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, int64(-32000), remote.Code)
	assert.Equal(t, "No frame for given id found", remote.Message)
}

func TestChannel_ClosedBeforeMatch(t *testing.T) {
	ch, _ := dialTab(t, browsertest.WithHandler(func(s *browsertest.Session, cmd browsertest.Command) {
		_ = s.Event("Inspector.detached", map[string]any{"reason": "target_closed"})
		s.Hangup()
	}))
	ctx := context.Background()

	id, err := ch.Send(ctx, MethodPrintToPDF, PrintToPDF(false))
	require.NoError(t, err)

	_, err = ch.AwaitResponse(ctx, id)
	require.Error(t, err)
	assert.Equal(t, renderr.KindProtocol, renderr.KindOf(err))
}

func TestChannel_AwaitHonoursContext(t *testing.T) {
	ch, _ := dialTab(t, browsertest.WithHandler(browsertest.Silent()))

	id, err := ch.Send(context.Background(), MethodPrintToPDF, PrintToPDF(false))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = ch.AwaitResponse(ctx, id)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestChannel_AwaitHonoursCancel(t *testing.T) {
	ch, _ := dialTab(t, browsertest.WithHandler(browsertest.Silent()))

	id, err := ch.Send(context.Background(), "Page.enable", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = ch.AwaitResponse(ctx, id)
	assert.Error(t, err)
}

func TestDial_Unreachable(t *testing.T) {
	b := browsertest.New(t)

	_, err := Dial(context.Background(), b.PageURL("UNKNOWN"), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, renderr.ErrTransport)

	_, err = Dial(context.Background(), "ws://127.0.0.1:1/devtools/page/X", zaptest.NewLogger(t))
	assert.Equal(t, renderr.KindTransport, renderr.KindOf(err))
}

func TestChannel_SendAfterClose(t *testing.T) {
	ch, _ := dialTab(t)
	require.NoError(t, ch.Close())
	assert.NoError(t, ch.Close(), "second close returns the first result")

	_, err := ch.Send(context.Background(), "Page.enable", nil)
	assert.ErrorIs(t, err, renderr.ErrTransport)
}

func TestChannel_SerializesCommand(t *testing.T) {
	ch, b := dialTab(t)
	ctx := context.Background()

	id, err := ch.Send(ctx, MethodSetDocumentContent, SetDocumentContent("TAB1", "<h1>hi</h1>"))
	require.NoError(t, err)
	_, err = ch.AwaitResponse(ctx, id)
	require.NoError(t, err)

	cmds := b.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "Page.setDocumentContent", cmds[0].Method)
	assert.JSONEq(t, `{"frameId":"TAB1","html":"<h1>hi</h1>"}`, string(cmds[0].Params))
}

func TestPrintToPDF_AlwaysSerializesGeometry(t *testing.T) {
	raw, err := json.Marshal(PrintToPDF(true))
	require.NoError(t, err)

	var params map[string]any
	require.NoError(t, json.Unmarshal(raw, &params))
	assert.Equal(t, true, params["landscape"])
	assert.Equal(t, true, params["printBackground"])
	assert.Equal(t, 8.27, params["paperWidth"])
	assert.Equal(t, 11.7, params["paperHeight"])
	for _, m := range []string{"marginTop", "marginBottom", "marginLeft", "marginRight"} {
		v, ok := params[m]
		require.True(t, ok, "%s must be sent explicitly", m)
		assert.Equal(t, float64(0), v, m)
	}

	raw, err = json.Marshal(PrintToPDF(false))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"landscape":false`)
}

func TestDecodePrintResult(t *testing.T) {
	tests := []struct {
		name    string
		result  string
		want    []byte
		errKind renderr.Kind
	}{
		{name: "valid", result: `{"data":"UERG"}`, want: []byte("PDF")},
		{name: "missing data", result: `{}`, errKind: renderr.KindBrowserRender},
		{name: "empty data", result: `{"data":""}`, errKind: renderr.KindBrowserRender},
		{name: "no result", result: ``, errKind: renderr.KindBrowserRender},
		{name: "not base64", result: `{"data":"%%%not-base64%%%"}`, errKind: renderr.KindDecode},
		{name: "malformed", result: `{"data":`, errKind: renderr.KindBrowserRender},
		{name: "data not a string", result: `{"data":123}`, errKind: renderr.KindDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePrintResult(json.RawMessage(tt.result))
			if tt.errKind != renderr.KindUnknown {
				require.Error(t, err)
				assert.Equal(t, tt.errKind, renderr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChannel_CloseLogsSessionCounters(t *testing.T) {
	b := browsertest.New(t, browsertest.WithHandler(func(s *browsertest.Session, cmd browsertest.Command) {
		_ = s.Event("Page.loadEventFired", map[string]any{})
		_ = s.Reply(cmd.ID, map[string]any{})
	}))
	core, logs := observer.New(zap.DebugLevel)
	addr := b.PageURL(b.OpenTab())

	ch, err := Dial(context.Background(), addr, zap.New(core))
	require.NoError(t, err)

	id, err := ch.Send(context.Background(), "Page.enable", nil)
	require.NoError(t, err)
	_, err = ch.AwaitResponse(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	_ = ch.Close()

	closed := logs.FilterMessage("Command channel closed").All()
	require.Len(t, closed, 1)
	fields := closed[0].ContextMap()
	assert.Equal(t, addr, fields["addr"])
	assert.Equal(t, int64(1), fields["last_id"])
	assert.Equal(t, int64(1), fields["skipped_frames"])
}
