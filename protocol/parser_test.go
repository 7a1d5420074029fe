package protocol

import (
	"bytes"
	"io"
	"testing"
)

type fakeCallbacks struct {
	caps        []string
	tagged      []taggedCall
	exists      uint32
	recent      uint32
	uidvalidity uint32
	uids        []uint32
	flags       []string
	bodies      [][]byte
	cur         *bytes.Buffer
	headers     [][]byte
	curHeader   *bytes.Buffer
}

type taggedCall struct {
	tag, status, text string
}

func (f *fakeCallbacks) CapabilityBegin()         { f.caps = nil }
func (f *fakeCallbacks) Capability(tok string)    { f.caps = append(f.caps, tok) }
func (f *fakeCallbacks) TaggedStatus(tag, status, text string) {
	f.tagged = append(f.tagged, taggedCall{tag, status, text})
}
func (f *fakeCallbacks) DataExists(n uint32)             { f.exists = n }
func (f *fakeCallbacks) DataRecent(n uint32)             { f.recent = n }
func (f *fakeCallbacks) StatusCodeUIDValidity(n uint32)  { f.uidvalidity = n }
func (f *fakeCallbacks) FetchBegin(uint32)               { f.flags = nil }
func (f *fakeCallbacks) SectionEmpty()                   {}
func (f *fakeCallbacks) BodySectionWriter() (io.Writer, error) {
	f.cur = &bytes.Buffer{}
	return f.cur, nil
}
func (f *fakeCallbacks) BodySectionEnd() {
	f.bodies = append(f.bodies, f.cur.Bytes())
}
func (f *fakeCallbacks) HeaderFieldsWriter() (io.Writer, error) {
	f.curHeader = &bytes.Buffer{}
	return f.curHeader, nil
}
func (f *fakeCallbacks) HeaderFieldsEnd() {
	f.headers = append(f.headers, f.curHeader.Bytes())
}
func (f *fakeCallbacks) Flag(name string) { f.flags = append(f.flags, name) }
func (f *fakeCallbacks) UID(n uint32)     { f.uids = append(f.uids, n) }

func TestParserCapabilityAndTagged(t *testing.T) {
	cb := &fakeCallbacks{}
	p := New(cb)
	if err := p.Feed([]byte("* CAPABILITY IMAP4rev1 UIDPLUS\r\nA1 OK done\r\n")); err != nil {
		t.Fatal(err)
	}
	if len(cb.caps) != 2 || cb.caps[1] != "UIDPLUS" {
		t.Fatalf("caps = %v", cb.caps)
	}
	if len(cb.tagged) != 1 || cb.tagged[0].tag != "A1" || cb.tagged[0].status != "OK" {
		t.Fatalf("tagged = %v", cb.tagged)
	}
}

func TestParserSelectData(t *testing.T) {
	cb := &fakeCallbacks{}
	p := New(cb)
	msg := "* 2 EXISTS\r\n* 0 RECENT\r\n* OK [UIDVALIDITY 42] UIDs valid\r\nA3 OK done\r\n"
	if err := p.Feed([]byte(msg)); err != nil {
		t.Fatal(err)
	}
	if cb.exists != 2 || cb.recent != 0 || cb.uidvalidity != 42 {
		t.Fatalf("exists=%d recent=%d uidvalidity=%d", cb.exists, cb.recent, cb.uidvalidity)
	}
}

func TestParserFetchWithLiterals(t *testing.T) {
	cb := &fakeCallbacks{}
	p := New(cb)
	body := "BODY1"
	msg := "* 1 FETCH (UID 3 FLAGS (\\Seen \\Answered) BODY[HEADER.FIELDS (date from subject)] {0}\r\n" +
		" BODY[] {" + itoa(len(body)) + "}\r\n" + body + ")\r\n"
	if err := p.Feed([]byte(msg)); err != nil {
		t.Fatal(err)
	}
	if len(cb.uids) != 1 || cb.uids[0] != 3 {
		t.Fatalf("uids = %v", cb.uids)
	}
	if len(cb.flags) != 2 || cb.flags[0] != "\\Seen" {
		t.Fatalf("flags = %v", cb.flags)
	}
	if len(cb.bodies) != 1 || string(cb.bodies[0]) != body {
		t.Fatalf("bodies = %v", cb.bodies)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
