// Package users implements the user and note operations. Each operation runs
// its guard chain and its mutation inside one store critical section, then
// reports the outcome to metrics and the event publisher.
package users

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kuitang/user-notes/internal/errs"
	"github.com/kuitang/user-notes/internal/events"
	"github.com/kuitang/user-notes/internal/guard"
	"github.com/kuitang/user-notes/internal/metrics"
	"github.com/kuitang/user-notes/internal/model"
	"github.com/kuitang/user-notes/internal/obs"
	"github.com/kuitang/user-notes/internal/store"
)

// Service owns the Record Store and exposes the resource operations.
type Service struct {
	store     *store.Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func() string
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides the id source.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// NewService creates a service over st.
func NewService(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store:     st,
		publisher: events.Noop{},
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// atomically runs the guard chain and then mutate under the store lock.
// A rejection is counted against the guard that produced it.
func (s *Service) atomically(req guard.Request, guards []guard.Guard, mutate func(r *store.Records) error) error {
	return s.store.Atomically(func(r *store.Records) error {
		if rej := guard.Run(req, r, guards...); rej != nil {
			s.metrics.GuardRejected(rej.Guard)
			return rej.Err
		}
		if err := mutate(r); err != nil {
			return err
		}
		s.metrics.SetCounts(r.Len(), r.CountNotes())
		return nil
	})
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	e.At = s.now()
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.metrics.EventFailed(string(e.Type))
		obs.From(ctx).With("pkg", "users").Warn("event_publish_failed", "type", e.Type, "user_id", e.UserID, "error", err)
	}
}

// CreateUser registers a new user with an empty note list.
func (s *Service) CreateUser(ctx context.Context, body guard.Body) (model.User, error) {
	var created model.User
	err := s.atomically(
		guard.Request{Body: body},
		[]guard.Guard{guard.CPFAvailable},
		func(r *store.Records) error {
			params, err := parseCreateUser(body)
			if err != nil {
				return err
			}
			created = model.User{
				ID:    s.newID(),
				Name:  params.Name,
				CPF:   params.CPF,
				Notes: []model.Note{},
			}
			r.Insert(created)
			return nil
		},
	)
	if err != nil {
		return model.User{}, err
	}
	s.publish(ctx, events.Event{Type: events.UserCreated, UserID: created.ID, CPF: created.CPF})
	return created, nil
}

// ListUsers returns every user in creation order.
func (s *Service) ListUsers(ctx context.Context) []model.User {
	return s.store.List()
}

// UpdateUser applies a partial update to the user registered under cpf.
func (s *Service) UpdateUser(ctx context.Context, cpf string, body guard.Body) (model.User, error) {
	var updated model.User
	err := s.atomically(
		guard.Request{CPF: cpf, Body: body},
		[]guard.Guard{guard.UserExists, guard.CPFChangeAvailable},
		func(r *store.Records) error {
			params, err := parseUpdateUser(body)
			if err != nil {
				return err
			}
			u, ok := r.FindOne(store.ByCPF(cpf))
			if !ok {
				return errs.New(errs.NotFound, errs.MsgUserNotRegistered)
			}
			params.Apply(u)
			updated = u.Clone()
			return nil
		},
	)
	if err != nil {
		return model.User{}, err
	}
	s.publish(ctx, events.Event{Type: events.UserUpdated, UserID: updated.ID, CPF: updated.CPF})
	return updated, nil
}

// DeleteUser removes the user registered under cpf and all of its notes.
func (s *Service) DeleteUser(ctx context.Context, cpf string) error {
	var removed model.User
	err := s.atomically(
		guard.Request{CPF: cpf},
		[]guard.Guard{guard.UserExists},
		func(r *store.Records) error {
			u, ok := r.FindOne(store.ByCPF(cpf))
			if !ok {
				return errs.New(errs.NotFound, errs.MsgUserNotRegistered)
			}
			removed = u.Clone()
			r.Remove(store.ByCPF(cpf))
			return nil
		},
	)
	if err != nil {
		return err
	}
	s.publish(ctx, events.Event{Type: events.UserDeleted, UserID: removed.ID, CPF: removed.CPF})
	return nil
}

// AddNote appends a note to the user registered under cpf.
func (s *Service) AddNote(ctx context.Context, cpf string, body guard.Body) (model.NoteAdded, error) {
	var (
		owner model.User
		note  model.Note
	)
	err := s.atomically(
		guard.Request{CPF: cpf, Body: body},
		[]guard.Guard{guard.UserExists},
		func(r *store.Records) error {
			params, err := parseCreateNote(body)
			if err != nil {
				return err
			}
			u, ok := r.FindOne(store.ByCPF(cpf))
			if !ok {
				return errs.New(errs.NotFound, errs.MsgUserNotRegistered)
			}
			note = model.Note{
				ID:        s.newID(),
				Title:     params.Title,
				Content:   params.Content,
				CreatedAt: s.now(),
			}
			u.Notes = append(u.Notes, note)
			owner = model.User{ID: u.ID, Name: u.Name, CPF: u.CPF}
			return nil
		},
	)
	if err != nil {
		return model.NoteAdded{}, err
	}
	s.publish(ctx, events.Event{Type: events.NoteAdded, UserID: owner.ID, CPF: owner.CPF, NoteID: note.ID})
	return model.NoteAdded{
		Message: fmt.Sprintf("%s was added into %s's notes", note.Title, owner.Name),
	}, nil
}

// ListNotes returns the notes of the user registered under cpf, in order.
func (s *Service) ListNotes(ctx context.Context, cpf string) ([]model.Note, error) {
	var notes []model.Note
	err := s.store.Atomically(func(r *store.Records) error {
		if rej := guard.Run(guard.Request{CPF: cpf}, r, guard.UserExists); rej != nil {
			s.metrics.GuardRejected(rej.Guard)
			return rej.Err
		}
		u, _ := r.FindOne(store.ByCPF(cpf))
		notes = u.Clone().Notes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return notes, nil
}

// GetNote returns one note of the user registered under cpf.
func (s *Service) GetNote(ctx context.Context, cpf, noteID string) (model.Note, error) {
	var note model.Note
	err := s.store.Atomically(func(r *store.Records) error {
		if rej := guard.Run(guard.Request{CPF: cpf, NoteID: noteID}, r, guard.UserExists, guard.NoteExists); rej != nil {
			s.metrics.GuardRejected(rej.Guard)
			return rej.Err
		}
		u, _ := r.FindOne(store.ByCPF(cpf))
		note = u.Notes[u.FindNote(noteID)].Clone()
		return nil
	})
	if err != nil {
		return model.Note{}, err
	}
	return note, nil
}

// UpdateNote applies a partial update to a note and stamps updated_at.
func (s *Service) UpdateNote(ctx context.Context, cpf, noteID string, body guard.Body) (model.Note, error) {
	var (
		ownerID string
		updated model.Note
	)
	err := s.atomically(
		guard.Request{CPF: cpf, NoteID: noteID, Body: body},
		[]guard.Guard{guard.UserExists, guard.NoteExists},
		func(r *store.Records) error {
			params, err := parseUpdateNote(body)
			if err != nil {
				return err
			}
			u, ok := r.FindOne(store.ByCPF(cpf))
			if !ok {
				return errs.New(errs.NotFound, errs.MsgUserNotRegistered)
			}
			i := u.FindNote(noteID)
			if i < 0 {
				return errs.New(errs.NotFound, errs.MsgNoteNotRegistered)
			}
			params.Apply(&u.Notes[i], s.now())
			ownerID = u.ID
			updated = u.Notes[i].Clone()
			return nil
		},
	)
	if err != nil {
		return model.Note{}, err
	}
	s.publish(ctx, events.Event{Type: events.NoteUpdated, UserID: ownerID, CPF: cpf, NoteID: noteID})
	return updated, nil
}

// DeleteNote removes a note from its owner's list.
func (s *Service) DeleteNote(ctx context.Context, cpf, noteID string) error {
	var ownerID string
	err := s.atomically(
		guard.Request{CPF: cpf, NoteID: noteID},
		[]guard.Guard{guard.UserExists, guard.NoteExists},
		func(r *store.Records) error {
			u, ok := r.FindOne(store.ByCPF(cpf))
			if !ok {
				return errs.New(errs.NotFound, errs.MsgUserNotRegistered)
			}
			kept := u.Notes[:0]
			for _, n := range u.Notes {
				if n.ID != noteID {
					kept = append(kept, n)
				}
			}
			u.Notes = kept
			ownerID = u.ID
			return nil
		},
	)
	if err != nil {
		return err
	}
	s.publish(ctx, events.Event{Type: events.NoteDeleted, UserID: ownerID, CPF: cpf, NoteID: noteID})
	return nil
}

// RenderNote returns the note as a standalone HTML document.
func (s *Service) RenderNote(ctx context.Context, cpf, noteID string) ([]byte, error) {
	note, err := s.GetNote(ctx, cpf, noteID)
	if err != nil {
		return nil, err
	}
	page, err := renderNoteHTML(note)
	if err != nil {
		return nil, fmt.Errorf("render note %s: %w", noteID, err)
	}
	return page, nil
}
