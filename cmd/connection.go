// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/wattstat/pkg/mcp39f511n"
	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// Connection is a meter transport that can be closed
type Connection interface {
	mcp39f511n.Transport
	io.Closer
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// ReadTimeout returns 0, nil when nothing arrived within timeout
func (s *SerialConnection) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if err := s.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	return s.port.Read(p)
}

// ResetInputBuffer discards bytes received by the port but not yet read
func (s *SerialConnection) ResetInputBuffer() error {
	return s.port.ResetInputBuffer()
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// WebSocketConnection carries the UART byte stream in binary WebSocket
// messages, as exposed by serial-to-WebSocket bridges
type WebSocketConnection struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	msgs    chan []byte
	done    chan struct{}
	err     error

	closeOnce sync.Once
	closed    chan struct{}

	buf       []byte
	bufOffset int
}

func newWebSocketConnection(conn *websocket.Conn) *WebSocketConnection {
	w := &WebSocketConnection{
		conn:   conn,
		msgs:   make(chan []byte, 16),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *WebSocketConnection) readLoop() {
	defer close(w.done)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.err = err
			return
		}
		// Text frames are bridge status messages, not UART data
		if messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case w.msgs <- data:
		case <-w.closed:
			return
		}
	}
}

func (w *WebSocketConnection) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	// If we have buffered data, return it first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-w.msgs:
		w.buf = data
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	case <-w.done:
		if w.err != nil {
			return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, w.err)
		}
		return 0, ErrConnectionClosed
	case <-timer.C:
		return 0, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ResetInputBuffer drops buffered and queued messages not yet read
func (w *WebSocketConnection) ResetInputBuffer() error {
	w.buf = nil
	w.bufOffset = 0
	for {
		select {
		case <-w.msgs:
		default:
			return nil
		}
	}
}

func (w *WebSocketConnection) Close() error {
	w.closeOnce.Do(func() { close(w.closed) })
	return w.conn.Close()
}

// simulatedConnection adapts the simulator to Connection
type simulatedConnection struct {
	*mcp39f511n.Simulator
}

func (simulatedConnection) Close() error { return nil }

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int) (*SerialConnection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %v", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (*WebSocketConnection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}

	return newWebSocketConnection(conn), nil
}

// GetPassword retrieves password from config, environment or prompts user
func GetPassword() (string, error) {
	if cfg != nil && cfg.WebSocket.Password != "" {
		return cfg.WebSocket.Password, nil
	}
	if pw := os.Getenv("WATTSTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// simulator is set when the connection is simulated so that long-running
// commands can advance its energy counters
var simulator *mcp39f511n.Simulator

// OpenConnection opens a simulated, WebSocket or serial connection based
// on the loaded config
func OpenConnection() (Connection, string, error) {
	if cfg.Simulate {
		simulator = mcp39f511n.NewSimulator()
		return simulatedConnection{simulator}, "Simulated MCP39F511N", nil
	}

	if cfg.WebSocket.URL != "" {
		password := ""
		if cfg.WebSocket.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(cfg.WebSocket.URL, cfg.WebSocket.Username, password, cfg.WebSocket.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("WebSocket: %s", cfg.WebSocket.URL), nil
	}

	if cfg.Serial.Port != "" {
		conn, err := OpenSerialConnection(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Serial: %s @ %d baud", cfg.Serial.Port, cfg.Serial.Baud), nil
	}

	return nil, "", fmt.Errorf("either --port, --url or --simulate must be specified")
}

// OpenMeter opens a connection and wraps it in a meter configured from
// the loaded config. With readConfig the calibration is read before
// returning.
func OpenMeter(ctx context.Context, readConfig bool) (*mcp39f511n.Meter, Connection, string, error) {
	conn, desc, err := OpenConnection()
	if err != nil {
		return nil, nil, "", err
	}

	engine := mcp39f511n.NewEngine(conn,
		mcp39f511n.WithTimeout(cfg.Transaction.Timeout()),
		mcp39f511n.WithSettle(cfg.Transaction.Settle()),
		mcp39f511n.WithPollInterval(cfg.Transaction.Poll()),
		mcp39f511n.WithLogger(logger.Named("mcp39f511n")),
		mcp39f511n.WithStatistics(mcp39f511n.NewStatistics()))

	meter := mcp39f511n.NewMeter(engine)
	meter.SetPrecisionVolts(cfg.Precision.Volts)
	meter.SetPrecisionAmps1(cfg.Precision.Amps1)
	meter.SetPrecisionPower1(cfg.Precision.Power1)
	meter.SetPrecisionAmps2(cfg.Precision.Amps2)
	meter.SetPrecisionPower2(cfg.Precision.Power2)

	if readConfig {
		if err := meter.ReadConfig(ctx); err != nil {
			conn.Close()
			return nil, nil, "", fmt.Errorf("failed to read meter configuration: %w", err)
		}
	}

	logger.Info("meter opened", zap.String("connection", desc))
	return meter, conn, desc, nil
}
