// Package guard implements the validation chain that runs before a resource
// operation mutates the Record Store.
//
// A guard inspects the request and the records and returns a Decision. Guards
// are declared once and attached per operation in the order that operation
// needs; Run stops at the first rejection.
package guard

import (
	"github.com/kuitang/user-notes/internal/errs"
	"github.com/kuitang/user-notes/internal/store"
)

// Body is a parsed JSON request body.
type Body map[string]any

// String returns the string value at key. ok is false when the key is absent,
// null or not a string.
func (b Body) String(key string) (value string, ok bool) {
	raw, present := b[key]
	if !present || raw == nil {
		return "", false
	}
	value, ok = raw.(string)
	return value, ok
}

// Request is what a guard sees: the path parameters and the parsed body.
type Request struct {
	CPF    string
	NoteID string
	Body   Body
}

// Decision is the outcome of a guard: proceed, or reject with a coded error.
type Decision struct {
	Allowed bool
	Err     error
}

// Proceed lets the chain continue.
func Proceed() Decision {
	return Decision{Allowed: true}
}

// Reject stops the chain with the given error.
func Reject(code errs.Code, message string) Decision {
	return Decision{Err: errs.New(code, message)}
}

// Guard is one named step of a chain.
type Guard struct {
	Name  string
	Check func(req Request, recs *store.Records) Decision
}

// Rejection reports which guard stopped a chain.
type Rejection struct {
	Guard string
	Err   error
}

// Run evaluates guards in order. It returns nil when every guard proceeds,
// otherwise the first rejection. Callers must hold the store lock.
func Run(req Request, recs *store.Records, guards ...Guard) *Rejection {
	for _, g := range guards {
		d := g.Check(req, recs)
		if d.Allowed {
			continue
		}
		err := d.Err
		if err == nil {
			err = errs.New(errs.Internal, "guard "+g.Name+" rejected without error")
		}
		return &Rejection{Guard: g.Name, Err: err}
	}
	return nil
}
