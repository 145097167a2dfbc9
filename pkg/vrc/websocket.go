// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vrc

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// ErrConnectionClosed is returned when reading from a closed WebSocket link.
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketPort reaches a controller through a serial-to-WebSocket bridge.
// Binary messages carry raw serial bytes in both directions. The bridge owns
// the line settings, so SetMode fails and the firmware loaders cannot run
// over it.
type WebSocketPort struct {
	conn *websocket.Conn

	incoming chan []byte
	pending  []byte
	timeout  time.Duration

	mu     sync.Mutex
	err    error
	closed chan struct{}
	once   sync.Once
}

// DialWebSocket connects to a ws:// or wss:// bridge, with HTTP Basic auth
// when username is set.
func DialWebSocket(rawURL, username, password string, skipSSLVerify bool) (*WebSocketPort, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, errors.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
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

	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "WebSocket connection failed (HTTP %d)", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "WebSocket connection failed")
	}

	return newWebSocketPort(conn), nil
}

func newWebSocketPort(conn *websocket.Conn) *WebSocketPort {
	w := &WebSocketPort{
		conn:     conn,
		incoming: make(chan []byte, 64),
		timeout:  serial.NoTimeout,
		closed:   make(chan struct{}),
	}
	go w.pump()
	return w
}

// pump moves binary messages onto the incoming channel so Read can honour
// a timeout without setting a read deadline, which would poison the
// connection.
func (w *WebSocketPort) pump() {
	defer close(w.incoming)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.err = err
			w.mu.Unlock()
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case w.incoming <- data:
		case <-w.closed:
			return
		}
	}
}

func (w *WebSocketPort) Read(p []byte) (int, error) {
	if len(w.pending) == 0 {
		data, err := w.next()
		if err != nil || data == nil {
			return 0, err
		}
		w.pending = data
	}
	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

// next returns the next message, nil on timeout.
func (w *WebSocketPort) next() ([]byte, error) {
	var timer <-chan time.Time
	switch {
	case w.timeout == 0:
		select {
		case data, ok := <-w.incoming:
			return w.received(data, ok)
		default:
			return nil, nil
		}
	case w.timeout > 0:
		t := time.NewTimer(w.timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case data, ok := <-w.incoming:
		return w.received(data, ok)
	case <-timer:
		return nil, nil
	}
}

func (w *WebSocketPort) received(data []byte, ok bool) ([]byte, error) {
	if !ok {
		return nil, ErrConnectionClosed
	}
	return data, nil
}

func (w *WebSocketPort) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetReadTimeout sets the timeout used by Read. serial.NoTimeout blocks.
func (w *WebSocketPort) SetReadTimeout(t time.Duration) error {
	w.timeout = t
	return nil
}

// SetMode always fails: the bridge owns the serial line settings.
func (w *WebSocketPort) SetMode(mode *serial.Mode) error {
	return errors.Wrap(ErrConfig, "line settings are fixed by the websocket bridge")
}

// Err returns the error that ended the connection, if any.
func (w *WebSocketPort) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *WebSocketPort) Close() error {
	w.once.Do(func() { close(w.closed) })
	return w.conn.Close()
}
