package config

import (
	"testing"

	"github.com/spf13/pflag"
)

func newFlagSet(args ...string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	_ = fs.Parse(args)
	return fs
}

func TestLoadRequiresCredentials(t *testing.T) {
	fs := newFlagSet("--host=imap.example.com")
	if _, err := Load(fs); err == nil {
		t.Fatal("expected validation error for missing username/password/maildir")
	}
}

func TestLoadFillsFromFlags(t *testing.T) {
	fs := newFlagSet(
		"--host=imap.example.com",
		"--username=alice",
		"--password=s3cret",
		"--maildir=/tmp/mail",
		"--delete-after-fetch",
	)
	opts, err := Load(fs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Host != "imap.example.com" || opts.Port != 993 || !opts.DeleteAfterFetch {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if !opts.UseSSL {
		t.Fatal("expected use-ssl to default to true")
	}
}

func TestLoadRejectsUseSSLFalse(t *testing.T) {
	fs := newFlagSet(
		"--host=imap.example.com",
		"--username=alice",
		"--password=s3cret",
		"--maildir=/tmp/mail",
		"--use-ssl=false",
	)
	if _, err := Load(fs); err == nil {
		t.Fatal("expected error for use-ssl=false")
	}
}

func TestLoadParsesCipherList(t *testing.T) {
	fs := newFlagSet(
		"--host=imap.example.com",
		"--username=alice",
		"--password=s3cret",
		"--maildir=/tmp/mail",
		"--cipher=TLS_AES_128_GCM_SHA256:TLS_AES_256_GCM_SHA384",
	)
	opts, err := Load(fs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(opts.CipherSuites) != 2 || opts.CipherSuites[0] != "TLS_AES_128_GCM_SHA256" {
		t.Fatalf("unexpected cipher suites: %v", opts.CipherSuites)
	}
}
