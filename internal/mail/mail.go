// Package mail delivers outbound email such as quotes sent to customers.
package mail

import (
	"context"
	"errors"
	"sync"
)

// ErrNoRecipient is returned when a message has no destination address.
var ErrNoRecipient = errors.New("mail: recipient required")

// Attachment is a file sent along with a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a single outbound email.
type Message struct {
	To          string
	ToName      string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Sender defines the contract for sending emails.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// InMemory records messages instead of sending them.
type InMemory struct {
	mu     sync.Mutex
	outbox []Message
}

// Send records the message.
func (m *InMemory) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = append(m.outbox, msg)
	return nil
}

// Outbox returns a copy of the recorded messages.
func (m *InMemory) Outbox() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.outbox))
	copy(out, m.outbox)
	return out
}

// Nop implements Sender without performing any action.
type Nop struct{}

// Send implements Sender.
func (Nop) Send(context.Context, Message) error { return nil }
