package store

import "github.com/kuitang/user-notes/internal/model"

// ByCPF matches the user whose CPF equals cpf exactly.
func ByCPF(cpf string) Predicate {
	return func(u *model.User) bool { return u.CPF == cpf }
}

// CPFExists reports whether some user has exactly this CPF. No normalisation
// is applied, so "12345678901" and "123.456.789-01" are different keys.
func CPFExists(r *Records, cpf string) bool {
	_, ok := r.FindOne(ByCPF(cpf))
	return ok
}

// CPFAvailable is the negation of CPFExists.
func CPFAvailable(r *Records, cpf string) bool {
	return !CPFExists(r, cpf)
}

// NoteExists reports whether u owns a note with the given id.
func NoteExists(u *model.User, noteID string) bool {
	if u == nil {
		return false
	}
	return u.FindNote(noteID) >= 0
}
