package protocol

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"
)

// ReadResult is delivered on the channel returned by ReadOnce.
type ReadResult struct {
	Data []byte
	Err  error
}

// Transport is the asynchronous network surface the session drives. Every
// operation reports completion on a channel so the caller's single control
// goroutine can multiplex reads, timers and signals in one select loop
// instead of blocking on any one of them.
type Transport interface {
	Open(ctx context.Context) <-chan error
	ReadOnce() <-chan ReadResult
	Write(p []byte) <-chan error
	Shutdown(ctx context.Context) <-chan error
	Cancel()
	Close() error
	BytesRead() uint64
}

// TLSTransport is the default Transport, an implicit-TLS connection dialed
// with crypto/tls.
type TLSTransport struct {
	addr       string
	tlsConfig  *tls.Config
	conn       *tls.Conn
	bytesRead  uint64
	cancelled  atomic.Bool
}

// NewTLSTransport builds a transport that will dial addr (host:port) with
// tlsConfig once Open is called. Callers that want fingerprint pinning
// should set tlsConfig.InsecureSkipVerify and tlsConfig.VerifyPeerCertificate
// via certverify before passing it in.
func NewTLSTransport(addr string, tlsConfig *tls.Config) *TLSTransport {
	return &TLSTransport{addr: addr, tlsConfig: tlsConfig}
}

// Open resolves, connects and performs the TLS handshake, all folded into
// one asynchronous step since none of Go's dial primitives expose resolve
// and connect as separately awaitable phases the way asio does.
func (t *TLSTransport) Open(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() {
		dialer := &net.Dialer{}
		conn, err := tls.DialWithDialer(dialer, "tcp", t.addr, t.tlsConfig)
		if err != nil {
			ch <- fmt.Errorf("protocol: dial %s: %w", t.addr, err)
			return
		}
		t.conn = conn
		ch <- nil
	}()
	return ch
}

// ReadOnce issues one read, delivering at most 4096 bytes (or an error) on
// the returned channel.
func (t *TLSTransport) ReadOnce() <-chan ReadResult {
	ch := make(chan ReadResult, 1)
	go func() {
		buf := make([]byte, 4096)
		n, err := t.conn.Read(buf)
		if n > 0 {
			atomic.AddUint64(&t.bytesRead, uint64(n))
		}
		if t.cancelled.Load() {
			return
		}
		ch <- ReadResult{Data: buf[:n], Err: err}
	}()
	return ch
}

func (t *TLSTransport) Write(p []byte) <-chan error {
	ch := make(chan error, 1)
	go func() {
		_, err := t.conn.Write(p)
		ch <- err
	}()
	return ch
}

// Shutdown sends a TLS close-notify. Errors here are frequently benign
// (the peer closing first); the session decides whether to swallow them.
func (t *TLSTransport) Shutdown(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- t.conn.CloseWrite()
	}()
	return ch
}

// Cancel marks in-flight reads as abandoned; a read goroutine that
// completes after Cancel silently drops its result instead of delivering it.
func (t *TLSTransport) Cancel() { t.cancelled.Store(true) }

func (t *TLSTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

func (t *TLSTransport) BytesRead() uint64 { return atomic.LoadUint64(&t.bytesRead) }

// ConnectionState exposes the negotiated TLS state, mainly for tests that
// want to assert on the peer certificate chain.
func (t *TLSTransport) ConnectionState() tls.ConnectionState {
	return t.conn.ConnectionState()
}
