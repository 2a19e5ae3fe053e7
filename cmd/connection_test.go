// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/wattstat/internal/config"
	"github.com/Thermoquad/wattstat/pkg/mcp39f511n"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBridgeServer serves a simulated meter behind a serial-to-WebSocket
// bridge. Every binary message is written to the simulator and the reply
// is sent back split into two messages.
func newBridgeServer(t *testing.T, user, pass string) (*httptest.Server, *mcp39f511n.Simulator) {
	t.Helper()

	sim := mcp39f511n.NewSimulator()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user != "" {
			u, p, ok := r.BasicAuth()
			if !ok || u != user || p != pass {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"connected"}`))

		buf := make([]byte, 64)
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.BinaryMessage {
				continue
			}
			_, _ = sim.Write(data)
			n, _ := sim.ReadTimeout(buf, 50*time.Millisecond)
			if n == 0 {
				continue
			}
			half := (n + 1) / 2
			_ = conn.WriteMessage(websocket.BinaryMessage, buf[:half])
			if half < n {
				_ = conn.WriteMessage(websocket.BinaryMessage, buf[half:n])
			}
		}
	}))
	t.Cleanup(srv.Close)

	return srv, sim
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketConnection_MeterRoundTrip(t *testing.T) {
	srv, sim := newBridgeServer(t, "admin", "secret")

	conn, err := OpenWebSocketConnection(wsURL(srv), "admin", "secret", false)
	require.NoError(t, err)
	defer conn.Close()

	engine := mcp39f511n.NewEngine(conn,
		mcp39f511n.WithTimeout(500*time.Millisecond),
		mcp39f511n.WithSettle(50*time.Millisecond))
	meter := mcp39f511n.NewMeter(engine)

	ctx := context.Background()
	require.NoError(t, meter.ReadConfig(ctx))
	require.NoError(t, meter.ReadPower(ctx))

	assert.InDelta(t, 230.1, meter.Volts(), 1e-9)
	assert.Equal(t, uint64(1000000), meter.ImportEnergy1())

	require.NoError(t, meter.SetGain(ctx, mcp39f511n.RegGainVolts, 0x7F00))
	assert.Equal(t, uint16(0x7F00), sim.Register16(mcp39f511n.RegGainVolts))
}

func TestWebSocketConnection_RejectsBadCredentials(t *testing.T) {
	srv, _ := newBridgeServer(t, "admin", "secret")

	_, err := OpenWebSocketConnection(wsURL(srv), "admin", "wrong", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestWebSocketConnection_UnsupportedScheme(t *testing.T) {
	_, err := OpenWebSocketConnection("http://localhost:1234", "", "", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}

func TestWebSocketConnection_ReadTimeoutWithoutData(t *testing.T) {
	srv, _ := newBridgeServer(t, "", "")

	conn, err := OpenWebSocketConnection(wsURL(srv), "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 8)
	start := time.Now()
	n, err := conn.ReadTimeout(buf, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n, "text status frames are not UART data")
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWebSocketConnection_ClosedByPeer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	conn, err := OpenWebSocketConnection(wsURL(srv), "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 8)
	_, err = conn.ReadTimeout(buf, time.Second)
	assert.True(t, errors.Is(err, ErrConnectionClosed), "got %v", err)
}

// newFloodServer sends count binary messages as soon as a client connects
// and then holds the connection open until the client goes away
func newFloodServer(t *testing.T, count int) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < count; i++ {
			if err := conn.WriteMessage(websocket.BinaryMessage, []byte{byte(i)}); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocketConnection_CloseWithFullQueue(t *testing.T) {
	srv := newFloodServer(t, 64)

	conn, err := OpenWebSocketConnection(wsURL(srv), "", "", false)
	require.NoError(t, err)

	// wait for the reader to fill the queue and block on the next message
	require.Eventually(t, func() bool { return len(conn.msgs) == cap(conn.msgs) },
		time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())

	select {
	case <-conn.done:
	case <-time.After(time.Second):
		t.Fatal("read loop still blocked after Close")
	}
	assert.NoError(t, conn.Close(), "second Close")
}

func TestWebSocketConnection_ResetInputBuffer(t *testing.T) {
	srv := newFloodServer(t, 4)

	conn, err := OpenWebSocketConnection(wsURL(srv), "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return len(conn.msgs) == 4 },
		time.Second, 5*time.Millisecond)

	buf := make([]byte, 8)
	n, err := conn.ReadTimeout(buf, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, buf[:n])

	require.NoError(t, conn.ResetInputBuffer())

	n, err = conn.ReadTimeout(buf, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n, "stale messages survived the reset")
}

func TestSimulatedConnection_IsInputResetter(t *testing.T) {
	var conn Connection = simulatedConnection{mcp39f511n.NewSimulator()}
	_, ok := conn.(mcp39f511n.InputResetter)
	assert.True(t, ok)

	var serialConn Connection = &SerialConnection{}
	_, ok = serialConn.(mcp39f511n.InputResetter)
	assert.True(t, ok)
}

func TestOpenConnection_Simulated(t *testing.T) {
	saved := cfg
	t.Cleanup(func() { cfg = saved })

	cfg = &config.Config{Simulate: true}
	conn, desc, err := OpenConnection()
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "Simulated MCP39F511N", desc)
	assert.NotNil(t, simulator)
}

func TestOpenConnection_NothingConfigured(t *testing.T) {
	saved := cfg
	t.Cleanup(func() { cfg = saved })

	cfg = &config.Config{}
	_, _, err := OpenConnection()
	require.Error(t, err)
}
