package imap

import "testing"

func TestStateNextIsLinear(t *testing.T) {
	s := Disconnected
	seen := map[State]bool{s: true}
	for i := 0; i < 20; i++ {
		n := s.Next()
		if n == s {
			break
		}
		if seen[n] {
			t.Fatalf("state %v revisited", n)
		}
		seen[n] = true
		s = n
	}
	if s != LoggedOut {
		t.Fatalf("expected to terminate at LoggedOut, got %v", s)
	}
}

func TestFlagMaildirLetter(t *testing.T) {
	cases := map[Flag]byte{
		FlagAnswered: 'R',
		FlagSeen:     'S',
		FlagFlagged:  'F',
		FlagDraft:    'D',
		FlagRecent:   0,
		FlagDeleted:  0,
		Flag("\\Foo"): 0,
	}
	for f, want := range cases {
		if got := f.MaildirLetter(); got != want {
			t.Errorf("%v.MaildirLetter() = %q, want %q", f, got, want)
		}
	}
}

func TestCapSetCaseInsensitive(t *testing.T) {
	c := make(CapSet)
	c.Add("LOGINDISABLED")
	if !c.Has("logindisabled") {
		t.Error("expected case-insensitive match")
	}
	if c.Has("uidplus") {
		t.Error("did not expect uidplus to be present")
	}
}

func TestTagRegistry(t *testing.T) {
	r := NewTagRegistry()
	r.Register("A1", LoggedIn)
	next, err := r.Consume("A1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != LoggedIn {
		t.Fatalf("got %v, want LoggedIn", next)
	}
	if !r.Empty() {
		t.Fatal("expected registry to be empty after consume")
	}
	if _, err := r.Consume("A1"); err == nil {
		t.Fatal("expected error consuming an already-consumed tag")
	}
	if _, err := r.Consume("unknown"); err == nil {
		t.Fatal("expected error consuming an unregistered tag")
	}
}
