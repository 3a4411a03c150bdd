package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_BroadcastsSnapshots(t *testing.T) {
	var version atomic.Int64
	hub := NewHub(func() interface{} {
		return map[string]int64{"version": version.Load()}
	}, nil)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, time.Hour)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg map[string]int64
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, int64(0), msg["version"])

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	version.Store(7)
	hub.Notify()
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, int64(7), msg["version"])

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_NotifyDoesNotBlock(t *testing.T) {
	hub := NewHub(func() interface{} { return nil }, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Notify()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked without a running hub")
	}
}
