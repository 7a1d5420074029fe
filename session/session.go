// Package session implements the IMAP session state machine: it consumes
// the protocol package's Transport interface, its concrete Writer and
// Parser, and the maildirstore package, and drives a single mailbox fetch from
// connection through optional delete+expunge to logout.
package session

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	imap "github.com/coralfin/imapgrab"
	"github.com/coralfin/imapgrab/maildirstore"
	"github.com/coralfin/imapgrab/protocol"
)

// Options configures one fetch run.
type Options struct {
	Username         string
	Password         string
	Mailbox          string
	DeleteAfterFetch bool
	GreetingWait     time.Duration
}

// Session owns the state machine, tag registry and per-message working set
// for one connection. All of its methods run on the single goroutine that
// calls Run; there is no locking anywhere in this package.
type Session struct {
	log       logrus.FieldLogger
	transport protocol.Transport
	writer    *protocol.Writer
	parser    *protocol.Parser
	maildir   *maildirstore.Store
	opts      Options

	state imap.State
	tags  *imap.TagRegistry
	caps  imap.CapSet

	exists, recent uint32
	uidvalidity    uint32
	uids           imap.UIDSet

	curFlags    []string
	curDelivery *maildirstore.Delivery
	curHeader   *bytes.Buffer

	fetchedMessages  int
	bytesAtTickStart uint64
	fetchStatsTicker *time.Ticker

	fatalErr error
}

// New builds a Session ready to Run. verifier is installed by the caller
// against the transport's TLS config before Run is invoked; Session itself
// only consumes the Transport interface.
func New(log logrus.FieldLogger, transport protocol.Transport, store *maildirstore.Store, opts Options) *Session {
	s := &Session{
		log:       log,
		transport: transport,
		writer:    protocol.NewWriter(),
		maildir:   store,
		opts:      opts,
		state:     imap.Disconnected,
		tags:      imap.NewTagRegistry(),
		caps:      make(imap.CapSet),
	}
	s.parser = protocol.New(s)
	return s
}

// State returns the session's current state, mainly for tests.
func (s *Session) State() imap.State { return s.state }

// fail records the first fatal error seen; subsequent calls are no-ops so
// the earliest, most specific cause wins.
func (s *Session) fail(err error) {
	if s.fatalErr == nil {
		s.fatalErr = err
	}
	s.log.WithError(err).Error("session failed")
}

// command selects the next protocol action for the current state. It is
// the only place state transitions turn into outgoing commands.
func (s *Session) command() error {
	switch s.state {
	case imap.Established:
		// no-op: waiting for the greeting-wait timer to fire doCapabilities.
	case imap.GotInitialCapabilities:
		return s.doLogin()
	case imap.LoggedIn:
		return s.doCapabilities()
	case imap.GotCapabilities:
		return s.doSelect()
	case imap.SelectedMailbox:
		if s.exists > 0 {
			return s.doFetch()
		}
		s.log.Infof("mailbox %q is empty", s.opts.Mailbox)
		return s.doLogout()
	case imap.Fetched:
		if s.opts.DeleteAfterFetch {
			return s.doStore()
		}
		return s.doLogout()
	case imap.Stored:
		if s.caps.Has("UIDPLUS") {
			return s.doUIDExpunge()
		}
		return s.doExpunge()
	case imap.Expunged:
		return s.doLogout()
	case imap.LoggingOut, imap.Fetching:
		// no-op: driven by tagged response / parser callbacks.
	}
	return nil
}

// doCapabilities implements the short-circuit: if capabilities are already
// known (from the greeting or a status code), skip straight past this step
// instead of issuing a redundant CAPABILITY command.
func (s *Session) doCapabilities() error {
	if len(s.caps) > 0 {
		s.state = s.state.Next()
		return s.command()
	}
	tag, line := s.writer.Capability()
	s.tags.Register(tag, s.state.Next())
	return s.send(tag, line)
}

func (s *Session) doLogin() error {
	if s.caps.Has("LOGINDISABLED") {
		return &imap.ProtocolError{Text: "server advertises LOGINDISABLED"}
	}
	s.caps = make(imap.CapSet)
	s.log.WithField("user", s.opts.Username).Info("logging in")
	s.log.Tracef("login password: %s", s.opts.Password)
	tag, line := s.writer.Login(s.opts.Username, s.opts.Password)
	s.tags.Register(tag, s.state.Next())
	return s.send(tag, line)
}

func (s *Session) doSelect() error {
	s.exists, s.recent, s.uidvalidity = 0, 0, 0
	tag, line := s.writer.Select(s.opts.Mailbox)
	s.tags.Register(tag, s.state.Next())
	return s.send(tag, line)
}

func (s *Session) doFetch() error {
	s.state = imap.Fetching
	s.startFetchStats()
	tag, line := s.writer.Fetch("1:*")
	s.tags.Register(tag, imap.Fetched)
	return s.send(tag, line)
}

func (s *Session) doStore() error {
	s.stopFetchStats()
	tag, line := s.writer.UIDStoreDeleted(s.uids.String())
	s.tags.Register(tag, s.state.Next())
	return s.send(tag, line)
}

func (s *Session) doUIDExpunge() error {
	tag, line := s.writer.UIDExpunge(s.uids.String())
	s.tags.Register(tag, s.state.Next())
	return s.send(tag, line)
}

func (s *Session) doExpunge() error {
	tag, line := s.writer.Expunge()
	s.tags.Register(tag, s.state.Next())
	return s.send(tag, line)
}

func (s *Session) doLogout() error {
	s.stopFetchStats()
	s.state = imap.LoggingOut
	tag, line := s.writer.Logout()
	s.tags.Register(tag, imap.LoggedOut)
	return s.send(tag, line)
}

func (s *Session) send(tag string, line []byte) error {
	s.log.WithField("tag", tag).Debugf("-> %s", line)
	errCh := s.transport.Write(append(line, "\r\n"...))
	if err := <-errCh; err != nil {
		return &imap.TransportError{Err: err}
	}
	return nil
}

func (s *Session) startFetchStats() {
	s.fetchedMessages = 0
	s.bytesAtTickStart = s.transport.BytesRead()
	if s.fetchStatsTicker != nil {
		s.fetchStatsTicker.Reset(time.Second)
	}
}

func (s *Session) stopFetchStats() {
	if s.fetchStatsTicker != nil {
		s.fetchStatsTicker.Stop()
	}
	s.logFetchStats()
}

func (s *Session) logFetchStats() {
	read := s.transport.BytesRead()
	delta := read - s.bytesAtTickStart
	s.bytesAtTickStart = read
	kibPerSec := (float64(delta) * 1000.0) / (1000.0 * 1024.0)
	s.log.Infof("fetched %d messages so far, %.1f KiB/s", s.fetchedMessages, kibPerSec)
}

// --- protocol.Callbacks ------------------------------------------------

func (s *Session) CapabilityBegin() { s.caps = make(imap.CapSet) }

func (s *Session) Capability(tok string) { s.caps.Add(tok) }

func (s *Session) TaggedStatus(tag, status, text string) {
	if status != "OK" {
		s.fail(&imap.ProtocolError{Text: fmt.Sprintf("%s %s %s", tag, status, text)})
		return
	}
	next, err := s.tags.Consume(tag)
	if err != nil {
		s.fail(err)
		return
	}
	s.state = next
	if err := s.command(); err != nil {
		s.fail(err)
	}
}

func (s *Session) DataExists(n uint32) { s.exists = n }

func (s *Session) DataRecent(n uint32) { s.recent = n }

func (s *Session) StatusCodeUIDValidity(n uint32) { s.uidvalidity = n }

func (s *Session) FetchBegin(uint32) { s.curFlags = nil }

func (s *Session) SectionEmpty() {}

func (s *Session) BodySectionWriter() (io.Writer, error) {
	if s.state != imap.Fetching {
		return io.Discard, nil
	}
	d, err := s.maildir.CreateTmp()
	if err != nil {
		return nil, &imap.TransportError{Err: err}
	}
	s.curDelivery = d
	return d, nil
}

func (s *Session) BodySectionEnd() {
	if s.curDelivery == nil {
		return
	}
	d := s.curDelivery
	s.curDelivery = nil

	var err error
	if len(s.curFlags) == 0 {
		err = d.MoveToNew()
	} else {
		err = d.MoveToCur(maildirFlagLetters(s.curFlags))
	}
	if err != nil {
		s.fail(&imap.TransportError{Err: err})
		return
	}
	s.fetchedMessages++
	s.logMessageSummary()
}

func (s *Session) HeaderFieldsWriter() (io.Writer, error) {
	s.curHeader = &bytes.Buffer{}
	return s.curHeader, nil
}

func (s *Session) HeaderFieldsEnd() {}

// logMessageSummary best-effort decodes From/Subject out of the
// date/from/subject header fields just fetched, for one progress log line.
// Decode failures are swallowed: the fetch itself already succeeded.
func (s *Session) logMessageSummary() {
	if s.curHeader == nil || s.curHeader.Len() == 0 {
		return
	}
	header := s.curHeader
	s.curHeader = nil

	raw := append(bytes.Clone(header.Bytes()), []byte("\r\n")...)
	hdr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return
	}
	from, _ := hdr.Header.AddressList("From")
	subject, _ := hdr.Header.Subject()
	fromStr := ""
	if len(from) > 0 {
		fromStr = from[0].String()
	}
	s.log.Infof("fetched message from %q subject %q", fromStr, subject)
}

func (s *Session) Flag(name string) {
	s.curFlags = append(s.curFlags, name)
}

func (s *Session) UID(n uint32) {
	if s.state == imap.Fetching {
		s.uids.Add(imap.UID(n))
	}
}

func maildirFlagLetters(flags []string) string {
	seen := map[byte]bool{}
	out := make([]byte, 0, len(flags))
	for _, f := range flags {
		letter := imap.Flag(f).MaildirLetter()
		if letter == 0 || seen[letter] {
			continue
		}
		seen[letter] = true
		out = append(out, letter)
	}
	return string(out)
}
