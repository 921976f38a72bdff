package sender

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
)

func TestBuildData(t *testing.T) {
	msg := &Message{
		From:          "news@example.com",
		FromName:      "Example News",
		To:            "lead@test.com",
		Subject:       "hello",
		Body:          "body text",
		CorrelationID: "corr-123",
	}

	data := string(buildData(msg, "mail.example.com"))

	for _, want := range []string{
		"From: Example News <news@example.com>\r\n",
		"To: lead@test.com\r\n",
		"Subject: hello\r\n",
		"Message-ID: <corr-123@mail.example.com>\r\n",
		"\r\nbody text\r\n",
	} {
		if !strings.Contains(data, want) {
			t.Errorf("message missing %q:\n%s", want, data)
		}
	}
}

func TestMemorySender(t *testing.T) {
	s := NewMemorySender()
	ctx := context.Background()

	if err := s.Send(ctx, &Message{To: "a@example.com"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := s.Messages(); len(got) != 1 || got[0].To != "a@example.com" {
		t.Errorf("Messages() = %+v, want one to a@example.com", got)
	}

	s.Fail = errors.New("relay down")
	if err := s.Send(ctx, &Message{To: "b@example.com"}); err == nil {
		t.Error("Send() with Fail set returned nil error")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := s.Send(cancelled, &Message{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Send() on cancelled ctx error = %v, want context.Canceled", err)
	}
}

// captureBackend records what a relay session receives
type captureBackend struct {
	mu   sync.Mutex
	from string
	to   []string
	data []byte
}

func (b *captureBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &captureSession{backend: b}, nil
}

type captureSession struct {
	backend *captureBackend
}

func (s *captureSession) Mail(from string, opts *smtp.MailOptions) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.from = from
	return nil
}

func (s *captureSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.to = append(s.backend.to, to)
	return nil
}

func (s *captureSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.data = data
	return nil
}

func (s *captureSession) Reset()        {}
func (s *captureSession) Logout() error { return nil }

// startRelay runs a plaintext SMTP server on a random local port
func startRelay(t *testing.T) (host string, port int, backend *captureBackend) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	backend = &captureBackend{}
	srv := smtp.NewServer(backend)
	srv.Domain = "relay.test"
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	h, p, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, err = strconv.Atoi(p)
	if err != nil {
		t.Fatal(err)
	}
	return h, port, backend
}

func TestSMTPSenderRelaysMessage(t *testing.T) {
	host, port, backend := startRelay(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	snd := NewSMTPSender(RelayConfig{
		Host:     host,
		Port:     port,
		Hostname: "mail.example.com",
	}, 5*time.Second, logger)

	// The relay offers no STARTTLS, so delivery goes through the
	// plaintext fallback.
	msg := &Message{
		From:          "news@example.com",
		FromName:      "Example News",
		To:            "lead@example.org",
		Subject:       "hello",
		Body:          "body text",
		CorrelationID: "corr-relay-1",
	}
	if err := snd.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.from != "news@example.com" {
		t.Errorf("relay saw MAIL FROM %q, want news@example.com", backend.from)
	}
	if len(backend.to) != 1 || backend.to[0] != "lead@example.org" {
		t.Errorf("relay saw RCPT TO %v, want [lead@example.org]", backend.to)
	}
	got := string(backend.data)
	for _, want := range []string{"Subject: hello", "body text", "corr-relay-1@mail.example.com"} {
		if !strings.Contains(got, want) {
			t.Errorf("relayed message missing %q:\n%s", want, got)
		}
	}
}

func TestSMTPSenderUnreachableRelay(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	snd := NewSMTPSender(RelayConfig{Host: "127.0.0.1", Port: 1, Hostname: "mail.example.com"},
		2*time.Second, logger)

	err := snd.Send(context.Background(), &Message{To: "a@example.com"})
	if err == nil {
		t.Fatal("Send() to closed port returned nil error")
	}
	if !IsTemporaryError(err) {
		t.Error("connection failure should be temporary")
	}
}

func TestCategorizeError(t *testing.T) {
	perm := categorizeError(errors.New("550 5.1.1 user unknown"), "RCPT TO")
	if perm.Temporary {
		t.Error("550 categorized as temporary")
	}

	temp := categorizeError(errors.New("421 try again later"), "MAIL FROM")
	if !temp.Temporary {
		t.Error("421 categorized as permanent")
	}

	unknown := categorizeError(errors.New("connection reset"), "DATA")
	if !unknown.Temporary {
		t.Error("unclassified error should default to temporary")
	}
}
