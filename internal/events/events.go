// Package events publishes user and note lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Type names a lifecycle event.
type Type string

const (
	UserCreated Type = "user.created"
	UserUpdated Type = "user.updated"
	UserDeleted Type = "user.deleted"
	NoteAdded   Type = "note.added"
	NoteUpdated Type = "note.updated"
	NoteDeleted Type = "note.deleted"
)

// Event describes one successful mutation.
type Event struct {
	Type   Type      `json:"type"`
	UserID string    `json:"user_id"`
	CPF    string    `json:"cpf"`
	NoteID string    `json:"note_id,omitempty"`
	At     time.Time `json:"at"`
}

// Key is the partitioning key; events of one user stay ordered.
func (e Event) Key() []byte {
	return []byte(e.UserID)
}

// Encode returns the JSON wire form.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	return data, nil
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop drops every event. It is used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }
