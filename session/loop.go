package session

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	imap "github.com/coralfin/imapgrab"
)

// Run drives the session from Disconnected to LoggedOut (or to the first
// non-benign error) on a single goroutine: this call. Every event —
// reads, the greeting timer, the fetch-stats ticker, and OS signals — is
// multiplexed through one select loop, so no state in this package is ever
// touched from more than one goroutine at a time.
func (s *Session) Run(ctx context.Context) error {
	if err := <-s.transport.Open(ctx); err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return &imap.TransportError{Err: err}
		}
		return &imap.TLSError{Err: err}
	}
	s.state = imap.Established
	s.log.Info("connection established")

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	signaled := false

	greeting := time.NewTimer(s.opts.GreetingWait)
	defer greeting.Stop()

	fetchStats := time.NewTicker(time.Hour)
	fetchStats.Stop()
	defer fetchStats.Stop()
	s.fetchStatsTicker = fetchStats

	readCh := s.transport.ReadOnce()

	for {
		select {
		case res := <-readCh:
			if res.Err != nil {
				if s.state == imap.LoggedOut && s.benign(res.Err) {
					return nil
				}
				return &imap.TransportError{Err: res.Err}
			}
			if err := s.parser.Feed(res.Data); err != nil {
				s.fail(&imap.ProtocolError{Text: "parse failure", Err: err})
			}
			if s.fatalErr != nil {
				return s.fatalErr
			}
			if s.state == imap.LoggedOut {
				return s.quit(ctx, nil)
			}
			readCh = s.transport.ReadOnce()

		case <-greeting.C:
			if err := s.doCapabilities(); err != nil {
				return err
			}

		case <-fetchStats.C:
			s.logFetchStats()

		case sig := <-sigCh:
			s.log.Warnf("got signal: %v", sig)
			if signaled {
				return &imap.SignalEscalationError{Signal: sig.String()}
			}
			signaled = true
			return s.quit(ctx, sigCh)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// quit cancels any in-flight read and performs the shutdown handshake,
// swallowing the error classes that are expected during an orderly close.
// A signal arriving on escalate while the shutdown is pending aborts it with
// a SignalEscalationError; a nil escalate never fires.
func (s *Session) quit(ctx context.Context, escalate <-chan os.Signal) error {
	s.transport.Cancel()
	var err error
	select {
	case err = <-s.transport.Shutdown(ctx):
	case sig := <-escalate:
		s.log.Warnf("got signal: %v", sig)
		return &imap.SignalEscalationError{Signal: sig.String()}
	}
	closeErr := s.transport.Close()
	if err != nil && !s.benign(err) {
		return &imap.TLSError{Err: err}
	}
	if closeErr != nil {
		return &imap.TransportError{Err: closeErr}
	}
	return s.fatalErr
}

// benign reports whether err is a known-harmless close condition: EOF or
// unexpected EOF, a TLS record-header error, or an error whose text mentions
// a short read, a bad record MAC or a closed network connection. It does not
// look at the session state; the read path checks for LOGGED_OUT itself.
// Anything else is not swallowed.
func (s *Session) benign(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr *tls.RecordHeaderError
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return containsAny(msg, "short", "bad record mac", "use of closed network connection")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if indexFold(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexFold(s, sub string) int {
	ls, lsub := toLower(s), toLower(sub)
	for i := 0; i+len(lsub) <= len(ls); i++ {
		if ls[i:i+len(lsub)] == lsub {
			return i
		}
	}
	return -1
}

func toLower(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b[i] = c
	}
	return string(b)
}
