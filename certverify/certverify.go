// Package certverify implements leaf-certificate fingerprint pinning for
// the TLS handshake, with a fallback to ordinary PKI + hostname verification
// when no fingerprint is configured.
package certverify

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Verifier is invoked once for the whole certificate chain via
// tls.Config.VerifyPeerCertificate. Unlike a callback fired once per
// certificate, Go hands the caller the entire raw chain at once; Verifier
// walks it leaf-first to reproduce the same per-position semantics.
type Verifier struct {
	log         logrus.FieldLogger
	hostname    string
	fingerprint string // uppercase hex SHA-1, empty means "no pin"

	result *bool // cached outcome once the leaf has been judged
}

// New builds a Verifier. fingerprint may be empty (no pinning, ordinary PKI
// verification against hostname is used instead) or a 40-character
// hex SHA-1 digest in any case; it is upper-cased at construction.
func New(log logrus.FieldLogger, hostname, fingerprint string) *Verifier {
	return &Verifier{
		log:         log,
		hostname:    hostname,
		fingerprint: strings.ToUpper(fingerprint),
	}
}

// Pinned reports whether a fingerprint pin is configured.
func (v *Verifier) Pinned() bool { return v.fingerprint != "" }

// Callback returns the function to install as
// tls.Config.VerifyPeerCertificate. When a fingerprint is pinned, callers
// should also set InsecureSkipVerify so the stdlib's own chain validation
// does not run before this callback gets a chance to accept or reject the
// leaf purely on the pin.
func (v *Verifier) Callback() func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("certverify: server presented no certificates")
		}

		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("certverify: parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}

		for pos, cert := range certs {
			if err := v.verifyOne(pos+1, cert, certs); err != nil {
				return err
			}
		}
		return nil
	}
}

// verifyOne implements the decision for a single chain position. pos is
// 1-based; 1 is the leaf.
func (v *Verifier) verifyOne(pos int, cert *x509.Certificate, chain []*x509.Certificate) error {
	fp := fingerprintSHA1(cert)
	v.log.Debugf("SHA1 fingerprint of certificate (position %d): %s", pos, fp)
	v.log.Debugf("certificate subject (position %d): %s", pos, cert.Subject.String())

	if v.result != nil {
		if *v.result {
			return nil
		}
		return fmt.Errorf("certverify: certificate chain already rejected")
	}

	if v.Pinned() && pos == 1 {
		match := fp == v.fingerprint
		v.result = &match
		if match {
			v.log.Debugf("pinned fingerprint matches leaf certificate")
			return nil
		}
		v.log.Errorf("certificate verification failed: pinned fingerprint %s does not match leaf fingerprint %s", v.fingerprint, fp)
		return fmt.Errorf("certverify: leaf fingerprint %s does not match pinned %s", fp, v.fingerprint)
	}

	if v.Pinned() {
		// Non-leaf position while pinning is in effect: the pin at
		// position 1 is the only trust decision that matters.
		return nil
	}

	if pos != 1 {
		return nil
	}
	opts := x509.VerifyOptions{DNSName: v.hostname, Intermediates: x509.NewCertPool()}
	for _, c := range chain {
		if c != cert {
			opts.Intermediates.AddCert(c)
		}
	}
	if _, err := cert.Verify(opts); err != nil {
		v.log.Errorf("certificate verification failed: %v", err)
		return fmt.Errorf("certverify: %w", err)
	}
	return nil
}

func fingerprintSHA1(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
