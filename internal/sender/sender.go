// Package sender delivers campaign email through an SMTP relay.
package sender

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"
)

// Message is one outbound email. CorrelationID ends up in the Message-ID so
// delivery feedback can be tied back to the originating lead.
type Message struct {
	From          string
	FromName      string
	To            string
	ToName        string
	Subject       string
	Body          string
	CorrelationID string
}

// Sender delivers a single message
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// buildData constructs the RFC 5322 message bytes
func buildData(msg *Message, hostname string) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("From: %s\r\n", formatAddress(msg.From, msg.FromName)))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", formatAddress(msg.To, msg.ToName)))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: <%s@%s>\r\n", msg.CorrelationID, hostname))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(msg.Body)
	buf.WriteString("\r\n")

	return buf.Bytes()
}

func formatAddress(email, name string) string {
	if name == "" {
		return email
	}
	return name + " <" + email + ">"
}

// MemorySender records messages instead of delivering them. Used by tests
// and by dry-run mode.
type MemorySender struct {
	mu       sync.Mutex
	messages []Message
	// Fail makes every Send return this error
	Fail error
}

func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

func (s *MemorySender) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	s.messages = append(s.messages, *msg)
	return nil
}

// Messages returns a copy of everything sent so far
func (s *MemorySender) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}
