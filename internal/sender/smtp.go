package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/tealmail/drip/internal/dkim"
)

// DeliveryError carries whether a relay failure is worth retrying
type DeliveryError struct {
	Temporary bool
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// IsTemporaryError checks if the error is temporary
func IsTemporaryError(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true // Assume temporary if unknown
}

// RelayConfig configures the upstream SMTP relay
type RelayConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Hostname string `yaml:"hostname"` // HELO name and Message-ID domain
}

// SMTPSender delivers through a single authenticated relay with
// opportunistic STARTTLS and optional DKIM signing
type SMTPSender struct {
	cfg        RelayConfig
	timeout    time.Duration
	dkimSigner *dkim.Signer
	logger     *slog.Logger
}

// NewSMTPSender creates a relay sender
func NewSMTPSender(cfg RelayConfig, timeout time.Duration, logger *slog.Logger) *SMTPSender {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{
		cfg:     cfg,
		timeout: timeout,
		logger:  logger,
	}
}

// SetDKIMSigner enables DKIM signing for outgoing messages
func (s *SMTPSender) SetDKIMSigner(signer *dkim.Signer) {
	s.dkimSigner = signer
}

// dial opens a relay connection with the send deadline applied
func (s *SMTPSender) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("connection failed to %s: %v", addr, err),
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(s.timeout))
	}
	return conn, nil
}

// connect establishes an SMTP session, negotiating STARTTLS when the
// relay offers it. TLS failures fall back to a fresh plaintext session;
// NewClientStartTLS closes its connection on failure, so the fallback
// redials.
func (s *SMTPSender) connect(ctx context.Context, addr string) (*smtp.Client, error) {
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		ServerName: s.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}
	client, err := smtp.NewClientStartTLS(conn, tlsConfig)
	if err == nil {
		return client, nil
	}
	s.logger.Warn("STARTTLS failed, continuing without encryption",
		"relay", s.cfg.Host,
		"error", err,
	)

	conn, derr := s.dial(ctx, addr)
	if derr != nil {
		return nil, derr
	}
	return smtp.NewClient(conn), nil
}

// Send delivers one message through the relay
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))

	client, err := s.connect(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	// STARTTLS resets the EHLO state, so our hostname applies on both the
	// encrypted and the plaintext path.
	if err := client.Hello(s.cfg.Hostname); err != nil {
		return categorizeError(err, "HELO")
	}

	if s.cfg.Username != "" {
		auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return categorizeError(err, "AUTH")
		}
	}

	data := buildData(msg, s.cfg.Hostname)
	if s.dkimSigner != nil {
		signed, err := s.dkimSigner.Sign(data)
		if err != nil {
			s.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", s.dkimSigner.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	if err := client.Mail(msg.From, nil); err != nil {
		return categorizeError(err, "MAIL FROM")
	}
	if err := client.Rcpt(msg.To, nil); err != nil {
		return categorizeError(err, fmt.Sprintf("RCPT TO %s", msg.To))
	}

	wc, err := client.Data()
	if err != nil {
		return categorizeError(err, "DATA")
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("failed to write message data: %v", err),
		}
	}
	if err := wc.Close(); err != nil {
		return categorizeError(err, "DATA close")
	}

	client.Quit()

	s.logger.Debug("message relayed",
		"relay", s.cfg.Host,
		"to", msg.To,
		"correlation_id", msg.CorrelationID,
	)
	return nil
}

// smtpCodePattern matches SMTP response codes at word boundaries
var smtpCodePattern = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// categorizeError determines if an SMTP error is temporary or permanent
func categorizeError(err error, stage string) *DeliveryError {
	msg := fmt.Sprintf("%s failed: %v", stage, err)

	matches := smtpCodePattern.FindStringSubmatch(err.Error())
	if len(matches) > 1 {
		code := matches[1]
		// 5xx codes are permanent errors, 4xx temporary
		if strings.HasPrefix(code, "5") {
			return &DeliveryError{Temporary: false, Message: msg}
		}
		if strings.HasPrefix(code, "4") {
			return &DeliveryError{Temporary: true, Message: msg}
		}
	}

	// Assume temporary by default
	return &DeliveryError{Temporary: true, Message: msg}
}
