package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Callbacks is the surface the fetch ingestor implements. Parser drives it
// as complete responses become available from the byte stream.
type Callbacks interface {
	CapabilityBegin()
	Capability(token string)
	TaggedStatus(tag, status, text string)
	DataExists(n uint32)
	DataRecent(n uint32)
	StatusCodeUIDValidity(n uint32)
	FetchBegin(seqNum uint32)
	SectionEmpty()
	// BodySectionWriter is called once, right before the parser streams
	// the bytes of the full-body (no section specifier) literal. It
	// returns the writer those bytes should land in.
	BodySectionWriter() (io.Writer, error)
	BodySectionEnd()
	// HeaderFieldsWriter is called once per non-empty BODY[...] section
	// (in practice, BODY[HEADER.FIELDS (date from subject)]); its bytes
	// are small enough to buffer for a best-effort From/Subject log line.
	HeaderFieldsWriter() (io.Writer, error)
	HeaderFieldsEnd()
	Flag(name string)
	UID(n uint32)
}

// Parser incrementally decodes an IMAP response stream and drives Callbacks.
// It understands exactly the response grammar this client's Writer can
// provoke: greetings, CAPABILITY, tagged status, EXISTS/RECENT, the
// UIDVALIDITY response code, and FETCH responses carrying UID, FLAGS and
// BODY[...] literal sections. Anything outside that grammar (SEARCH,
// THREAD, QUOTA, ...) is intentionally not recognized.
type Parser struct {
	buf []byte

	literalRemaining int
	literalSink      io.Writer
	literalDiscard   bool
	onLiteralDone    func()

	fetch                  *fetchState
	pendingFetchRemainder string

	cb Callbacks
}

type fetchState struct {
	seqNum uint32
}

// New returns a Parser that drives cb.
func New(cb Callbacks) *Parser {
	return &Parser{cb: cb}
}

// Feed appends newly read bytes to the parser's internal buffer and drains
// as many complete responses as are available.
func (p *Parser) Feed(data []byte) error {
	p.buf = append(p.buf, data...)
	for {
		progressed, err := p.step()
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

// step consumes exactly one literal chunk or one line from the buffer.
// It returns progressed=false when the buffer holds no complete unit yet.
func (p *Parser) step() (progressed bool, err error) {
	if p.literalRemaining > 0 {
		n := p.literalRemaining
		if n > len(p.buf) {
			n = len(p.buf)
		}
		if n == 0 {
			return false, nil
		}
		if !p.literalDiscard {
			if _, werr := p.literalSink.Write(p.buf[:n]); werr != nil {
				return false, fmt.Errorf("protocol: write literal: %w", werr)
			}
		}
		p.buf = p.buf[n:]
		p.literalRemaining -= n
		if p.literalRemaining == 0 && p.onLiteralDone != nil {
			done := p.onLiteralDone
			p.onLiteralDone = nil
			done()
		}
		return true, nil
	}

	idx := bytes.Index(p.buf, []byte("\r\n"))
	if idx == -1 {
		idx = bytes.IndexByte(p.buf, '\n')
		if idx == -1 {
			return false, nil
		}
		line := p.buf[:idx]
		p.buf = p.buf[idx+1:]
		return true, p.handleLine(string(line))
	}
	line := p.buf[:idx]
	p.buf = p.buf[idx+2:]
	return true, p.handleLine(string(line))
}

func (p *Parser) handleLine(line string) error {
	if p.fetch != nil {
		return p.continueFetch(line)
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	if fields[0] == "*" {
		return p.handleUntagged(line, fields[1:])
	}
	return p.handleTagged(fields[0], fields[1:], line)
}

func (p *Parser) handleTagged(tag string, rest []string, line string) error {
	if len(rest) == 0 {
		return fmt.Errorf("protocol: malformed tagged response %q", line)
	}
	status := rest[0]
	text := strings.TrimPrefix(line, tag+" "+status+" ")
	p.cb.TaggedStatus(tag, status, text)
	return nil
}

func (p *Parser) handleUntagged(line string, fields []string) error {
	if len(fields) == 0 {
		return nil
	}

	switch strings.ToUpper(fields[0]) {
	case "OK", "PREAUTH", "BAD", "NO":
		// Greeting or untagged status; look for a [CAPABILITY ...] or
		// [UIDVALIDITY n] response code embedded in brackets.
		if start := strings.IndexByte(line, '['); start >= 0 {
			if end := strings.IndexByte(line[start:], ']'); end >= 0 {
				p.handleStatusCode(line[start+1 : start+end])
			}
		}
		return nil
	case "CAPABILITY":
		p.cb.CapabilityBegin()
		for _, tok := range fields[1:] {
			p.cb.Capability(tok)
		}
		return nil
	}

	// "* <n> EXISTS" / "* <n> RECENT" / "* <n> FETCH (...)"
	if n, err := strconv.ParseUint(fields[0], 10, 32); err == nil && len(fields) >= 2 {
		switch strings.ToUpper(fields[1]) {
		case "EXISTS":
			p.cb.DataExists(uint32(n))
			return nil
		case "RECENT":
			p.cb.DataRecent(uint32(n))
			return nil
		case "FETCH":
			p.fetch = &fetchState{seqNum: uint32(n)}
			p.cb.FetchBegin(uint32(n))
			rest := strings.TrimSpace(line[strings.Index(line, "FETCH")+len("FETCH"):])
			rest = strings.TrimPrefix(rest, "(")
			return p.continueFetch(rest)
		}
	}
	return nil
}

func (p *Parser) handleStatusCode(code string) {
	fields := strings.Fields(code)
	if len(fields) == 0 {
		return
	}
	switch strings.ToUpper(fields[0]) {
	case "CAPABILITY":
		p.cb.CapabilityBegin()
		for _, tok := range fields[1:] {
			p.cb.Capability(tok)
		}
	case "UIDVALIDITY":
		if len(fields) >= 2 {
			if n, err := strconv.ParseUint(fields[1], 10, 32); err == nil {
				p.cb.StatusCodeUIDValidity(uint32(n))
			}
		}
	}
}

// continueFetch tokenizes the remainder of a FETCH response's attribute
// list, which may be interrupted one or more times by a literal.
func (p *Parser) continueFetch(text string) error {
	text = strings.TrimSpace(text)
	for len(text) > 0 {
		switch {
		case text == ")":
			p.fetch = nil
			return nil
		case strings.HasPrefix(strings.ToUpper(text), "UID "):
			text = text[len("UID "):]
			end := scanToken(text)
			n, err := strconv.ParseUint(text[:end], 10, 32)
			if err != nil {
				return fmt.Errorf("protocol: bad UID: %w", err)
			}
			p.cb.UID(uint32(n))
			text = strings.TrimSpace(text[end:])
		case strings.HasPrefix(strings.ToUpper(text), "FLAGS "):
			text = text[len("FLAGS "):]
			open := strings.IndexByte(text, '(')
			close := strings.IndexByte(text, ')')
			if open != 0 || close == -1 {
				return fmt.Errorf("protocol: malformed FLAGS list")
			}
			for _, f := range strings.Fields(text[open+1 : close]) {
				p.cb.Flag(f)
			}
			text = strings.TrimSpace(text[close+1:])
		case strings.HasPrefix(strings.ToUpper(text), "BODY["):
			closeBracket := strings.IndexByte(text, ']')
			if closeBracket == -1 {
				return fmt.Errorf("protocol: malformed BODY section")
			}
			section := text[len("BODY[") : closeBracket]
			if section == "" {
				p.cb.SectionEmpty()
			}
			rest := strings.TrimSpace(text[closeBracket+1:])
			size, remainder, err := scanLiteralSize(rest)
			if err != nil {
				return err
			}
			// The literal's bytes are not yet in text; they will be
			// consumed by step() before this line resumes, so bail out
			// of the loop here and let the remainder (if any, usually
			// empty) be handled once the literal completes.
			p.pendingFetchRemainder = remainder
			if section == "" {
				w, err := p.cb.BodySectionWriter()
				if err != nil {
					return err
				}
				p.startLiteral(size, w, false, p.cb.BodySectionEnd)
			} else {
				w, err := p.cb.HeaderFieldsWriter()
				if err != nil {
					return err
				}
				p.startLiteral(size, w, false, p.cb.HeaderFieldsEnd)
			}
			return nil
		default:
			return fmt.Errorf("protocol: unrecognized FETCH attribute near %q", text)
		}
	}
	return nil
}

func (p *Parser) startLiteral(size int, sink io.Writer, discard bool, done func()) {
	onDone := func() {
		if done != nil {
			done()
		}
		remainder := p.pendingFetchRemainder
		p.pendingFetchRemainder = ""
		if p.fetch != nil {
			_ = p.continueFetch(remainder)
		}
	}
	if size == 0 {
		// step() only fires onLiteralDone once literalRemaining, having
		// been positive, reaches zero; a zero-length literal never makes
		// that transition, so resume inline instead.
		onDone()
		return
	}
	p.literalRemaining = size
	p.literalSink = sink
	p.literalDiscard = discard
	p.onLiteralDone = onDone
}

func scanToken(s string) int {
	i := 0
	for i < len(s) && s[i] != ' ' && s[i] != ')' {
		i++
	}
	return i
}

// scanLiteralSize parses a leading "{N}" literal-size marker, returning the
// size and whatever text (if any) still follows it on the same physical
// line (rare; our fixtures put the literal at end of line).
func scanLiteralSize(s string) (int, string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return 0, "", fmt.Errorf("protocol: expected literal size marker, got %q", s)
	}
	end := strings.IndexByte(s, '}')
	if end == -1 {
		return 0, "", fmt.Errorf("protocol: unterminated literal size marker")
	}
	n, err := strconv.Atoi(s[1:end])
	if err != nil {
		return 0, "", fmt.Errorf("protocol: bad literal size: %w", err)
	}
	return n, strings.TrimSpace(s[end+1:]), nil
}
