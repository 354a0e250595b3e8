package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/ultrazend/ultrazend/internal/config"
	"github.com/ultrazend/ultrazend/internal/dkim"
)

// TLS modes for the relay connection
const (
	TLSNone     = "none"
	TLSStartTLS = "starttls"
	TLSImplicit = "tls"
)

// Sender delivers a built message
type Sender interface {
	Send(ctx context.Context, env *Envelope, data []byte) error
}

// DeliveryError represents a delivery error with type information
type DeliveryError struct {
	Temporary bool
	Code      int // SMTP reply code, 0 for network errors
	Stage     string
	Err       error
}

func (e *DeliveryError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s failed (%d): %v", e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsTemporaryError checks if the error is temporary
func IsTemporaryError(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true
}

// Relay submits messages to a configured smarthost
type Relay struct {
	cfg    config.DeliveryConfig
	dkim   *dkim.Provider
	logger *slog.Logger
}

// NewRelay creates a relay sender. provider may be nil to send unsigned.
func NewRelay(cfg config.DeliveryConfig, provider *dkim.Provider, logger *slog.Logger) *Relay {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Relay{
		cfg:    cfg,
		dkim:   provider,
		logger: logger,
	}
}

// Send signs data when a DKIM key exists for the sender domain and submits it
func (r *Relay) Send(ctx context.Context, env *Envelope, data []byte) error {
	from := env.From
	if parsed, err := mail.ParseAddress(env.From); err == nil {
		from = parsed.Address
	}

	rcpts := make([]string, 0, len(env.Recipients()))
	for _, rcpt := range env.Recipients() {
		if parsed, err := mail.ParseAddress(rcpt); err == nil {
			rcpt = parsed.Address
		}
		rcpts = append(rcpts, rcpt)
	}
	if len(rcpts) == 0 {
		return &DeliveryError{Stage: "RCPT TO", Err: errors.New("no recipients")}
	}

	if signer := r.dkim.SignerFor(from); signer != nil {
		signed, err := signer.Sign(data)
		if err != nil {
			r.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
			r.logger.Debug("DKIM signed",
				"domain", signer.Domain(),
				"selector", signer.Selector(),
			)
		}
	}

	client, err := r.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(from, nil); err != nil {
		return categorize(err, "MAIL FROM")
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt, nil); err != nil {
			return categorize(err, "RCPT TO "+rcpt)
		}
	}

	wc, err := client.Data()
	if err != nil {
		return categorize(err, "DATA")
	}
	if _, err := bytes.NewReader(data).WriteTo(wc); err != nil {
		wc.Close()
		return &DeliveryError{Temporary: true, Stage: "DATA", Err: err}
	}
	if err := wc.Close(); err != nil {
		return categorize(err, "DATA close")
	}

	client.Quit()

	r.logger.Info("message relayed",
		"relay", r.cfg.RelayAddr(),
		"from", from,
		"recipients", len(rcpts),
	)

	return nil
}

// dial connects, greets, upgrades and authenticates according to the TLS mode
func (r *Relay) dial(ctx context.Context) (*smtp.Client, error) {
	addr := r.cfg.RelayAddr()

	dialer := &net.Dialer{Timeout: r.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &DeliveryError{Temporary: true, Stage: "connect", Err: err}
	}

	tlsConfig := &tls.Config{
		ServerName:         r.cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: r.cfg.InsecureSkipVerify,
	}

	// Cancellation during the handshake closes the conn.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var client *smtp.Client
	switch r.cfg.TLSMode {
	case TLSImplicit:
		client = smtp.NewClient(tls.Client(conn, tlsConfig))
	case TLSStartTLS:
		client, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			conn.Close()
			return nil, categorize(err, "STARTTLS")
		}
	default:
		client = smtp.NewClient(conn)
	}
	client.CommandTimeout = r.cfg.Timeout
	client.SubmissionTimeout = r.cfg.Timeout

	if err := client.Hello(r.cfg.Helo); err != nil {
		client.Close()
		return nil, categorize(err, "HELO")
	}

	if r.cfg.Username != "" {
		auth := sasl.NewPlainClient("", r.cfg.Username, r.cfg.Password)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, categorize(err, "AUTH")
		}
	}

	return client, nil
}

// categorize wraps err, treating 5xx replies as permanent and everything
// else as temporary
func categorize(err error, stage string) *DeliveryError {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &DeliveryError{
			Temporary: smtpErr.Code < 500,
			Code:      smtpErr.Code,
			Stage:     stage,
			Err:       err,
		}
	}
	return &DeliveryError{Temporary: true, Stage: stage, Err: err}
}
