// Package delivery builds rendered template mail and hands it to an SMTP relay
package delivery

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ultrazend/ultrazend/internal/email"
	"github.com/ultrazend/ultrazend/internal/template"
)

// ErrInvalidMessage is returned for envelopes that cannot be turned into mail
var ErrInvalidMessage = errors.New("invalid message")

// reservedHeaders are set by BuildMessage and cannot be overridden
var reservedHeaders = map[string]bool{
	"from": true, "to": true, "cc": true, "bcc": true, "subject": true,
	"date": true, "message-id": true, "mime-version": true,
	"content-type": true, "content-transfer-encoding": true,
	"dkim-signature": true,
}

// Envelope addresses a rendered template
type Envelope struct {
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	ReplyTo string
	Headers map[string]string

	// MessageID is assigned by BuildMessage
	MessageID string
}

// Recipients returns every RCPT TO address of the envelope
func (e *Envelope) Recipients() []string {
	rcpts := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	rcpts = append(rcpts, e.To...)
	rcpts = append(rcpts, e.Cc...)
	return append(rcpts, e.Bcc...)
}

// Validate checks addresses and header values
func (e *Envelope) Validate() error {
	if _, err := mail.ParseAddress(e.From); err != nil {
		return fmt.Errorf("%w: from %q: %v", ErrInvalidMessage, e.From, err)
	}
	if len(e.To) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrInvalidMessage)
	}
	for _, addr := range e.Recipients() {
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("%w: recipient %q: %v", ErrInvalidMessage, addr, err)
		}
	}
	if e.ReplyTo != "" {
		if _, err := mail.ParseAddress(e.ReplyTo); err != nil {
			return fmt.Errorf("%w: reply-to %q: %v", ErrInvalidMessage, e.ReplyTo, err)
		}
	}
	for k, v := range e.Headers {
		if k == "" || strings.ContainsAny(k, ": \t\r\n") {
			return fmt.Errorf("%w: header name %q", ErrInvalidMessage, k)
		}
		if strings.ContainsAny(v, "\r\n") {
			return fmt.Errorf("%w: header %s contains a line break", ErrInvalidMessage, k)
		}
		if reservedHeaders[strings.ToLower(k)] {
			return fmt.Errorf("%w: header %s cannot be overridden", ErrInvalidMessage, k)
		}
	}
	return nil
}

// BuildMessage renders an RFC 5322 message for env carrying result. Bcc
// recipients are not written to the headers.
func BuildMessage(env *Envelope, result *template.RenderResult) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if strings.ContainsAny(result.Subject, "\r\n") {
		return nil, fmt.Errorf("%w: subject contains a line break", ErrInvalidMessage)
	}
	if result.HTML == "" && result.Text == "" {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidMessage)
	}

	var buf bytes.Buffer

	writeHeader(&buf, "From", env.From)
	writeHeader(&buf, "To", strings.Join(env.To, ", "))
	if len(env.Cc) > 0 {
		writeHeader(&buf, "Cc", strings.Join(env.Cc, ", "))
	}
	if env.ReplyTo != "" {
		writeHeader(&buf, "Reply-To", env.ReplyTo)
	}
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", result.Subject))
	writeHeader(&buf, "Date", time.Now().Format(time.RFC1123Z))
	env.MessageID = fmt.Sprintf("<%s@%s>", uuid.New().String(), email.DomainOr(env.From, "localhost"))
	writeHeader(&buf, "Message-ID", env.MessageID)

	keys := make([]string, 0, len(env.Headers))
	for k := range env.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(&buf, k, env.Headers[k])
	}

	writeHeader(&buf, "MIME-Version", "1.0")

	switch {
	case result.HTML != "" && result.Text != "":
		boundary := uuid.New().String()
		writeHeader(&buf, "Content-Type", fmt.Sprintf("multipart/alternative; boundary=\"%s\"", boundary))
		buf.WriteString("\r\n")

		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		if err := writePart(&buf, "text/plain", result.Text); err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		if err := writePart(&buf, "text/html", result.HTML); err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	case result.HTML != "":
		if err := writePart(&buf, "text/html", result.HTML); err != nil {
			return nil, err
		}
	default:
		if err := writePart(&buf, "text/plain", result.Text); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

// writePart writes a quoted-printable body with its content headers
func writePart(buf *bytes.Buffer, contentType, body string) error {
	writeHeader(buf, "Content-Type", contentType+"; charset=utf-8")
	writeHeader(buf, "Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(buf)
	if _, err := qp.Write([]byte(body)); err != nil {
		return fmt.Errorf("failed to encode %s part: %w", contentType, err)
	}
	if err := qp.Close(); err != nil {
		return fmt.Errorf("failed to encode %s part: %w", contentType, err)
	}
	buf.WriteString("\r\n")
	return nil
}
