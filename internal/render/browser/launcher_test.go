package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgecomet/pdfrender/internal/common/config"
)

func TestEndpointFromWebSocket(t *testing.T) {
	tests := []struct {
		name    string
		wsURL   string
		want    string
		wantErr string
	}{
		{
			name:  "browser socket",
			wsURL: "ws://127.0.0.1:9222/devtools/browser/4f1c-a2",
			want:  "http://127.0.0.1:9222",
		},
		{
			name:  "secure socket",
			wsURL: "wss://chrome.internal:443/devtools/browser/x",
			want:  "https://chrome.internal:443",
		},
		{
			name:  "ipv6 host",
			wsURL: "ws://[::1]:9333/devtools/browser/x",
			want:  "http://[::1]:9333",
		},
		{
			name:    "http scheme",
			wsURL:   "http://127.0.0.1:9222",
			wantErr: "unsupported scheme",
		},
		{
			name:    "missing host",
			wsURL:   "ws:///devtools/browser/x",
			wantErr: "missing host",
		},
		{
			name:    "unparsable",
			wsURL:   "ws://%zz",
			wantErr: "invalid devtools url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EndpointFromWebSocket(tt.wsURL)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLaunch_Disabled(t *testing.T) {
	p, err := Launch(config.LaunchConfig{Enabled: false}, zap.NewNop())
	assert.ErrorIs(t, err, ErrLaunchDisabled)
	assert.Nil(t, p)
}

func TestProcess_StopNil(t *testing.T) {
	var p *Process
	assert.NotPanics(t, p.Stop)
}

func TestProbe_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Probe(ctx, "ws://127.0.0.1:1/devtools/browser/none")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser probe failed")
}
