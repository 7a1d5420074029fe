// Package maildirstore adapts github.com/numbleroot/maildir into the
// buffer-proxy-friendly Delivery interface the fetch ingestor writes
// streamed message bodies through.
package maildirstore

import (
	"fmt"

	"github.com/numbleroot/maildir"
)

// Store is an on-disk maildir (tmp/, new/, cur/), created if absent.
type Store struct {
	dir maildir.Dir
}

// Open creates path as a maildir (if it does not already exist) and
// returns a Store rooted there.
func Open(path string) (*Store, error) {
	d := maildir.Dir(path)
	if err := d.Create(); err != nil {
		return nil, fmt.Errorf("maildirstore: create %s: %w", path, err)
	}
	return &Store{dir: d}, nil
}

// CreateTmp opens a new uniquely named file under tmp/ and returns a
// Delivery the caller can stream message bytes into.
func (s *Store) CreateTmp() (*Delivery, error) {
	d, err := s.dir.NewDelivery()
	if err != nil {
		return nil, fmt.Errorf("maildirstore: new delivery: %w", err)
	}
	return &Delivery{d: d, dir: s.dir}, nil
}

// Delivery is the write end of one in-flight message. It implements the
// buffer-proxy's file target: bytes are fsynced as they are written so a
// crash mid-fetch leaves, at worst, a disposable partial file in tmp/.
type Delivery struct {
	d   *maildir.Delivery
	dir maildir.Dir
}

// Write appends p to the temporary file.
func (dl *Delivery) Write(p []byte) (int, error) {
	if err := dl.d.Write(p); err != nil {
		return 0, fmt.Errorf("maildirstore: write: %w", err)
	}
	return len(p), nil
}

// MoveToNew closes the temporary file and atomically renames it into new/,
// for a message that carries no flags (maildir's default delivery path).
func (dl *Delivery) MoveToNew() error {
	if _, err := dl.d.Close(); err != nil {
		return fmt.Errorf("maildirstore: move to new: %w", err)
	}
	return nil
}

// MoveToCur closes the temporary file and atomically renames it into cur/
// with an info suffix encoding flagLetters (e.g. "RS" for \Answered \Seen).
func (dl *Delivery) MoveToCur(flagLetters string) error {
	key, err := dl.d.Close()
	if err != nil {
		return fmt.Errorf("maildirstore: close before flagging: %w", err)
	}
	if _, err := dl.dir.SetFlags(key, flagLetters, true); err != nil {
		return fmt.Errorf("maildirstore: move to cur: %w", err)
	}
	return nil
}
