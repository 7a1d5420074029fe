// Command imapgrab connects to an IMAP server over TLS, fetches every
// message of a mailbox into a maildir, and optionally deletes and expunges
// them afterwards.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coralfin/imapgrab/certverify"
	"github.com/coralfin/imapgrab/config"
	"github.com/coralfin/imapgrab/maildirstore"
	"github.com/coralfin/imapgrab/protocol"
	"github.com/coralfin/imapgrab/session"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cmd := &cobra.Command{
		Use:   "imapgrab",
		Short: "Fetch a mailbox into a maildir over IMAP+TLS",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetCount("verbose"); v > 0 {
				log.SetLevel(logrus.DebugLevel)
			}
			if v, _ := cmd.Flags().GetCount("verbose"); v > 1 {
				log.SetLevel(logrus.TraceLevel)
			}
			return run(context.Background(), log, opts)
		},
	}
	config.BindFlags(cmd.Flags())
	cmd.Flags().CountP("verbose", "v", "increase log verbosity (-v debug, -vv trace)")

	if err := cmd.Execute(); err != nil {
		log.WithError(err).Error("imapgrab failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logrus.Logger, opts *config.Options) error {
	store, err := maildirstore.Open(opts.MaildirPath)
	if err != nil {
		return fmt.Errorf("open maildir: %w", err)
	}

	verifier := certverify.New(log, opts.Host, opts.Fingerprint)
	tlsConfig := &tls.Config{ServerName: opts.Host}
	if verifier.Pinned() {
		tlsConfig.InsecureSkipVerify = true
	}
	tlsConfig.VerifyPeerCertificate = verifier.Callback()

	suites, err := resolveCipherSuites(opts.CipherSuites)
	if err != nil {
		return err
	}
	tlsConfig.CipherSuites = suites

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	transport := protocol.NewTLSTransport(addr, tlsConfig)

	sess := session.New(log, transport, store, session.Options{
		Username:         opts.Username,
		Password:         opts.Password,
		Mailbox:          opts.Mailbox,
		DeleteAfterFetch: opts.DeleteAfterFetch,
		GreetingWait:     opts.GreetingWait,
	})

	return sess.Run(ctx)
}

// resolveCipherSuites maps configured cipher suite names to their IDs
// using the standard library's own suite tables, so the accepted names
// are exactly the ones crypto/tls already knows how to negotiate. An
// empty list leaves tlsConfig.CipherSuites nil, deferring to the
// stdlib default.
func resolveCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}
	byName := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		byName[s.Name] = s.ID
	}
	for _, s := range tls.InsecureCipherSuites() {
		byName[s.Name] = s.ID
	}
	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown cipher suite %q", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
