package guard

import (
	"github.com/kuitang/user-notes/internal/errs"
	"github.com/kuitang/user-notes/internal/store"
)

// CPFAvailable rejects with 422 when the body's cpf is already registered.
// A missing or non-string cpf proceeds; schema validation reports it.
var CPFAvailable = Guard{
	Name: "cpf_available",
	Check: func(req Request, recs *store.Records) Decision {
		cpf, ok := req.Body.String("cpf")
		if !ok || store.CPFAvailable(recs, cpf) {
			return Proceed()
		}
		return Reject(errs.AlreadyExists, errs.MsgUserAlreadyExists)
	},
}

// CPFChangeAvailable is CPFAvailable for updates: it only applies when the
// body carries a cpf different from the path cpf, so a user may keep its own.
var CPFChangeAvailable = Guard{
	Name: "cpf_change_available",
	Check: func(req Request, recs *store.Records) Decision {
		cpf, ok := req.Body.String("cpf")
		if !ok || cpf == req.CPF || store.CPFAvailable(recs, cpf) {
			return Proceed()
		}
		return Reject(errs.AlreadyExists, errs.MsgUserAlreadyExists)
	},
}

// UserExists rejects with 404 when the path cpf is not registered.
var UserExists = Guard{
	Name: "user_exists",
	Check: func(req Request, recs *store.Records) Decision {
		if store.CPFExists(recs, req.CPF) {
			return Proceed()
		}
		return Reject(errs.NotFound, errs.MsgUserNotRegistered)
	},
}

// NoteExists rejects with 404 when the path note id does not belong to the
// path user. It must run after UserExists.
var NoteExists = Guard{
	Name: "note_exists",
	Check: func(req Request, recs *store.Records) Decision {
		u, ok := recs.FindOne(store.ByCPF(req.CPF))
		if ok && store.NoteExists(u, req.NoteID) {
			return Proceed()
		}
		return Reject(errs.NotFound, errs.MsgNoteNotRegistered)
	},
}
