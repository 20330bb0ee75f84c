package stream

import (
	"bytes"
	"compress/zlib"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientConnectSendReceive(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, append([]byte("echo:"), msg...))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := New(Config{URL: wsURL, Logger: zerolog.Nop()})
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	received := make(chan []byte, 1)
	client.On(func(frame []byte) { received <- frame })

	require.NoError(t, client.SendText("hello"))

	select {
	case frame := <-received:
		assert.Equal(t, "echo:hello", string(frame))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed frame")
	}
}

func TestBackoffGrowsAndResets(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: 10 * time.Millisecond, Max: 100 * time.Millisecond, Multiplier: 2})
	first := b.Next()
	second := b.Next()
	assert.Greater(t, second, first-first/4) // second is roughly double first, allowing jitter
	b.Reset()
	afterReset := b.Next()
	assert.LessOrEqual(t, afterReset, second)
}

func TestInflateZlibRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write([]byte(`{"channel":"trades"}`))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	out, err := InflateZlib(buf.Bytes())
	require.NoError(t, err)
	assert.JSONEq(t, `{"channel":"trades"}`, string(out))
}

func TestInflateZlibPassesThroughNonCompressedFrames(t *testing.T) {
	out, err := InflateZlib([]byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, "pong", string(out))
}

func TestDecodeChannelIDArray(t *testing.T) {
	msg, ok, err := DecodeChannelIDArray([]byte(`[123,"te","tBTCUSD",[30000,1,2.5]]`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(123), msg.ChannelID)

	_, ok, err = DecodeChannelIDArray([]byte(`{"event":"hb"}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsHeartbeat(t *testing.T) {
	assert.True(t, IsHeartbeat("hb"))
	assert.False(t, IsHeartbeat("trade-update"))
}
