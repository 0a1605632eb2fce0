// Package model holds the User and Note records shared by the store, the
// guard chain and the resource operations.
package model

import (
	"regexp"
	"time"
)

// CPFPattern is the accepted CPF shape: 3.3.3-2 (any separator character in
// the dot positions) or exactly 11 digits.
const CPFPattern = `^(\d{3}.\d{3}.\d{3}-\d{2}|\d{11})$`

var cpfRegexp = regexp.MustCompile(CPFPattern)

// ValidCPF reports whether cpf has an accepted shape. No checksum or
// canonicalisation is applied.
func ValidCPF(cpf string) bool {
	return cpfRegexp.MatchString(cpf)
}

type (
	// User is a registered person identified by CPF. It owns its notes.
	User struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		CPF   string `json:"cpf"`
		Notes []Note `json:"notes"`
	}

	// Note is a free-text entry owned by exactly one User.
	Note struct {
		ID        string     `json:"id"`
		Title     string     `json:"title"`
		Content   string     `json:"content"`
		CreatedAt time.Time  `json:"created_at"`
		UpdatedAt *time.Time `json:"updated_at,omitempty"`
	}
)

// Clone returns a deep copy so callers cannot mutate stored state.
func (u User) Clone() User {
	out := u
	out.Notes = make([]Note, len(u.Notes))
	for i, n := range u.Notes {
		out.Notes[i] = n.Clone()
	}
	return out
}

// Clone returns a copy that does not share the UpdatedAt pointer.
func (n Note) Clone() Note {
	out := n
	if n.UpdatedAt != nil {
		t := *n.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// FindNote returns the index of the note with the given id, or -1.
func (u *User) FindNote(id string) int {
	for i := range u.Notes {
		if u.Notes[i].ID == id {
			return i
		}
	}
	return -1
}

// CreateUserParams contains the validated fields for a new user.
type CreateUserParams struct {
	Name string `json:"name"`
	CPF  string `json:"cpf"`
}

// UpdateUserParams contains the fields of a partial user update.
// Pointers distinguish an omitted field from an empty one.
type UpdateUserParams struct {
	Name *string `json:"name,omitempty"`
	CPF  *string `json:"cpf,omitempty"`
}

// CreateNoteParams contains the validated fields for a new note.
type CreateNoteParams struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// UpdateNoteParams contains the fields of a partial note update.
type UpdateNoteParams struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

// Apply overwrites every present field of u.
func (p UpdateUserParams) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.CPF != nil {
		u.CPF = *p.CPF
	}
}

// Apply overwrites every present field of n and stamps UpdatedAt.
func (p UpdateNoteParams) Apply(n *Note, now time.Time) {
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Content != nil {
		n.Content = *p.Content
	}
	n.UpdatedAt = &now
}

// NoteAdded is the confirmation returned after a note is created.
type NoteAdded struct {
	Message string `json:"message"`
}
