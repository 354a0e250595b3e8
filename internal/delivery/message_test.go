package delivery

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"testing"

	"github.com/ultrazend/ultrazend/internal/template"
)

func TestBuildMessage_Multipart(t *testing.T) {
	env := &Envelope{
		From:    "Ana <ana@example.com>",
		To:      []string{"bob@example.org"},
		Cc:      []string{"carol@example.org"},
		Bcc:     []string{"audit@example.com"},
		ReplyTo: "support@example.com",
		Headers: map[string]string{"X-Campaign": "onboarding"},
	}
	result := &template.RenderResult{
		Subject: "Bem-vindo, Bob",
		Text:    "Bob, acesse https://example.com/start",
		HTML:    "<p>Bob, acesse <a href=\"https://example.com/start\">aqui</a></p>",
	}

	data, err := BuildMessage(env, result)
	if err != nil {
		t.Fatalf("BuildMessage() error = %v", err)
	}

	msg, err := mail.ReadMessage(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		t.Fatalf("DecodeHeader() error = %v", err)
	}
	if subject != result.Subject {
		t.Errorf("Subject = %q, want %q", subject, result.Subject)
	}
	if got := msg.Header.Get("Cc"); got != "carol@example.org" {
		t.Errorf("Cc = %q", got)
	}
	if got := msg.Header.Get("Bcc"); got != "" {
		t.Errorf("Bcc header leaked: %q", got)
	}
	if got := msg.Header.Get("X-Campaign"); got != "onboarding" {
		t.Errorf("X-Campaign = %q", got)
	}
	if got := msg.Header.Get("Message-ID"); got != env.MessageID || !strings.HasSuffix(got, "@example.com>") {
		t.Errorf("Message-ID = %q, want example.com domain", got)
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/alternative" {
		t.Fatalf("Content-Type = %q, err = %v", msg.Header.Get("Content-Type"), err)
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])
	var bodies []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextPart() error = %v", err)
		}
		body, err := io.ReadAll(quotedprintable.NewReader(part))
		if err != nil {
			t.Fatalf("read part: %v", err)
		}
		bodies = append(bodies, part.Header.Get("Content-Type")+"|"+strings.TrimRight(string(body), "\r\n"))
	}

	want := []string{
		"text/plain; charset=utf-8|" + result.Text,
		"text/html; charset=utf-8|" + result.HTML,
	}
	if len(bodies) != len(want) {
		t.Fatalf("got %d parts, want %d", len(bodies), len(want))
	}
	for i := range want {
		if bodies[i] != want[i] {
			t.Errorf("part %d = %q, want %q", i, bodies[i], want[i])
		}
	}

	if got := env.Recipients(); len(got) != 3 {
		t.Errorf("Recipients() = %v, want to, cc and bcc", got)
	}
}

func TestBuildMessage_SinglePart(t *testing.T) {
	env := &Envelope{From: "ana@example.com", To: []string{"bob@example.org"}}

	data, err := BuildMessage(env, &template.RenderResult{Subject: "Oi", Text: "Olá {{nome}}"})
	if err != nil {
		t.Fatalf("BuildMessage() error = %v", err)
	}

	msg, err := mail.ReadMessage(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if got := msg.Header.Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	body, err := io.ReadAll(quotedprintable.NewReader(msg.Body))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimRight(string(body), "\r\n") != "Olá {{nome}}" {
		t.Errorf("body = %q", body)
	}
}

func TestBuildMessage_Invalid(t *testing.T) {
	ok := &template.RenderResult{Subject: "s", Text: "t"}

	tests := []struct {
		name   string
		env    *Envelope
		result *template.RenderResult
	}{
		{"bad from", &Envelope{From: "not an address", To: []string{"bob@example.org"}}, ok},
		{"no recipients", &Envelope{From: "ana@example.com"}, ok},
		{"bad recipient", &Envelope{From: "ana@example.com", To: []string{"bob"}}, ok},
		{"bad reply-to", &Envelope{From: "ana@example.com", To: []string{"bob@example.org"}, ReplyTo: "x"}, ok},
		{"header injection", &Envelope{
			From:    "ana@example.com",
			To:      []string{"bob@example.org"},
			Headers: map[string]string{"X-Tag": "a\r\nBcc: eve@evil.test"},
		}, ok},
		{"bad header name", &Envelope{
			From:    "ana@example.com",
			To:      []string{"bob@example.org"},
			Headers: map[string]string{"X Tag": "a"},
		}, ok},
		{"reserved header", &Envelope{
			From:    "ana@example.com",
			To:      []string{"bob@example.org"},
			Headers: map[string]string{"subject": "other"},
		}, ok},
		{"subject injection", &Envelope{From: "ana@example.com", To: []string{"bob@example.org"}},
			&template.RenderResult{Subject: "hi\nBcc: eve@evil.test", Text: "t"}},
		{"empty body", &Envelope{From: "ana@example.com", To: []string{"bob@example.org"}},
			&template.RenderResult{Subject: "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildMessage(tt.env, tt.result)
			if !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("BuildMessage() error = %v, want ErrInvalidMessage", err)
			}
		})
	}
}
