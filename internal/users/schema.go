package users

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kuitang/user-notes/internal/errs"
	"github.com/kuitang/user-notes/internal/guard"
	"github.com/kuitang/user-notes/internal/model"
)

func minLength(n int) *int {
	return &n
}

func nonEmptyString(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", MinLength: minLength(1), Description: description}
}

func anyString(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

func cpfString() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Pattern: model.CPFPattern, Description: "CPF as 000.000.000-00 or 11 digits"}
}

// Body schemas. Unknown properties such as id or notes are allowed and
// ignored by the operations. Update fields may be empty strings: a present
// value always overwrites.
var (
	createUserSchema = &jsonschema.Schema{
		Type:     "object",
		Required: []string{"name", "cpf"},
		Properties: map[string]*jsonschema.Schema{
			"name": nonEmptyString("Display name"),
			"cpf":  cpfString(),
		},
	}
	updateUserSchema = &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name": anyString("New display name"),
			"cpf":  cpfString(),
		},
	}
	createNoteSchema = &jsonschema.Schema{
		Type:     "object",
		Required: []string{"title", "content"},
		Properties: map[string]*jsonschema.Schema{
			"title":   nonEmptyString("Note title"),
			"content": nonEmptyString("Note body, markdown allowed"),
		},
	}
	updateNoteSchema = &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"title":   anyString("New title"),
			"content": anyString("New body"),
		},
	}
)

var (
	createUserResolved = mustResolve("create user", createUserSchema)
	updateUserResolved = mustResolve("update user", updateUserSchema)
	createNoteResolved = mustResolve("create note", createNoteSchema)
	updateNoteResolved = mustResolve("update note", updateNoteSchema)
)

func mustResolve(name string, s *jsonschema.Schema) *jsonschema.Resolved {
	resolved, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("resolve %s schema: %v", name, err))
	}
	return resolved
}

// validate checks body against schema. JSON null values count as absent.
func validate(schema *jsonschema.Resolved, body guard.Body) error {
	instance := make(map[string]any, len(body))
	for k, v := range body {
		if v != nil {
			instance[k] = v
		}
	}
	if err := schema.Validate(instance); err != nil {
		return errs.InvalidFields(err)
	}
	return nil
}

func optionalString(body guard.Body, key string) *string {
	v, ok := body.String(key)
	if !ok {
		return nil
	}
	return &v
}

func parseCreateUser(body guard.Body) (model.CreateUserParams, error) {
	if err := validate(createUserResolved, body); err != nil {
		return model.CreateUserParams{}, err
	}
	name, _ := body.String("name")
	cpf, _ := body.String("cpf")
	return model.CreateUserParams{Name: name, CPF: cpf}, nil
}

func parseUpdateUser(body guard.Body) (model.UpdateUserParams, error) {
	if err := validate(updateUserResolved, body); err != nil {
		return model.UpdateUserParams{}, err
	}
	return model.UpdateUserParams{
		Name: optionalString(body, "name"),
		CPF:  optionalString(body, "cpf"),
	}, nil
}

func parseCreateNote(body guard.Body) (model.CreateNoteParams, error) {
	if err := validate(createNoteResolved, body); err != nil {
		return model.CreateNoteParams{}, err
	}
	title, _ := body.String("title")
	content, _ := body.String("content")
	return model.CreateNoteParams{Title: title, Content: content}, nil
}

func parseUpdateNote(body guard.Body) (model.UpdateNoteParams, error) {
	if err := validate(updateNoteResolved, body); err != nil {
		return model.UpdateNoteParams{}, err
	}
	return model.UpdateNoteParams{
		Title:   optionalString(body, "title"),
		Content: optionalString(body, "content"),
	}, nil
}
