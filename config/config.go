// Package config loads the options the session needs from flags,
// environment variables (prefixed IMAPGRAB_) and an optional config file,
// in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Options mirrors the recognized configuration surface: connection target,
// credentials, mailbox selection, maildir destination, TLS pinning, and the
// optional delete-after-fetch behavior.
type Options struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Mailbox     string
	MaildirPath string

	// Fingerprint, if non-empty, pins the leaf certificate's SHA-1
	// fingerprint instead of relying on ordinary PKI verification.
	Fingerprint string

	// UseSSL selects implicit TLS, the only transport this client
	// supports; a config that sets it false fails validation.
	UseSSL bool
	// CipherSuites is an optional colon- or comma-separated list of Go
	// cipher suite names (e.g. "TLS_AES_128_GCM_SHA256") restricting the
	// set offered during the handshake. Empty means the stdlib default.
	CipherSuites []string

	GreetingWait     time.Duration
	DeleteAfterFetch bool

	ConfigFile string
}

// BindFlags registers the recognized options on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("host", "", "IMAP server hostname")
	fs.Int("port", 993, "IMAP server port (implicit TLS)")
	fs.String("username", "", "login username")
	fs.String("password", "", "login password")
	fs.String("mailbox", "INBOX", "mailbox to select and fetch")
	fs.String("maildir", "", "destination maildir path")
	fs.String("fingerprint", "", "pinned leaf certificate SHA-1 fingerprint (hex, case-insensitive)")
	fs.Bool("use-ssl", true, "connect using implicit TLS (the only transport this client supports)")
	fs.String("cipher", "", "colon- or comma-separated list of Go cipher suite names to offer during the handshake")
	fs.Duration("greeting-wait", 300*time.Millisecond, "delay before requesting capabilities after connecting")
	fs.Bool("delete-after-fetch", false, "mark fetched messages \\Deleted and expunge them")
	fs.String("config", "", "optional configuration file")
}

// Load resolves Options from fs (already parsed) layered over environment
// variables and an optional config file. Required fields are validated
// before any network I/O happens.
func Load(fs *pflag.FlagSet) (*Options, error) {
	v := viper.New()
	v.SetEnvPrefix("IMAPGRAB")
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}

	if cfgFile, _ := fs.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", cfgFile, err)
		}
	}

	opts := &Options{
		Host:             v.GetString("host"),
		Port:             v.GetInt("port"),
		Username:         v.GetString("username"),
		Password:         v.GetString("password"),
		Mailbox:          v.GetString("mailbox"),
		MaildirPath:      v.GetString("maildir"),
		Fingerprint:      v.GetString("fingerprint"),
		UseSSL:           v.GetBool("use-ssl"),
		CipherSuites:     splitCipherList(v.GetString("cipher")),
		GreetingWait:     v.GetDuration("greeting-wait"),
		DeleteAfterFetch: v.GetBool("delete-after-fetch"),
		ConfigFile:       v.GetString("config"),
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func (o *Options) validate() error {
	missing := []string{}
	if o.Host == "" {
		missing = append(missing, "host")
	}
	if o.Username == "" {
		missing = append(missing, "username")
	}
	if o.Password == "" {
		missing = append(missing, "password")
	}
	if o.Mailbox == "" {
		missing = append(missing, "mailbox")
	}
	if o.MaildirPath == "" {
		missing = append(missing, "maildir")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required option(s): %v", missing)
	}
	if !o.UseSSL {
		return fmt.Errorf("config: use-ssl=false is not supported, this client only speaks implicit TLS")
	}
	return nil
}

// splitCipherList splits a colon- or comma-separated cipher suite name
// list into its elements, dropping empty entries.
func splitCipherList(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.NewReplacer(":", ",").Replace(s)
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
