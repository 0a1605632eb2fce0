package mcp

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kuitang/user-notes/internal/model"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func stringProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

func cpfProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Pattern: model.CPFPattern, Description: description}
}

func objectSchema(required []string, props map[string]*jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Required:   required,
		Properties: props,
	}
}

// ToolDefinitions returns the user and note MCP tool definitions.
func ToolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        "user_create",
			Description: "Users tool. Register a user with a name and a CPF. The CPF is 11 digits, either bare (12345678901) or punctuated (123.456.789-01), and must not belong to another user. Returns the created user with its server-assigned id and an empty notes list.",
			InputSchema: objectSchema([]string{"name", "cpf"}, map[string]*jsonschema.Schema{
				"name": stringProp("Display name of the user"),
				"cpf":  cpfProp("CPF of the user, unique across all users"),
			}),
		},
		{
			Name:        "user_list",
			Description: "Users tool. List every registered user in registration order, each with their notes.",
			InputSchema: objectSchema(nil, map[string]*jsonschema.Schema{}),
		},
		{
			Name:        "user_update",
			Description: "Users tool. Change a user's name and/or CPF. Identify the user by 'cpf'. Pass 'name' to rename, 'new_cpf' to move the user to a different CPF that nobody else holds. Omitted fields are left unchanged. Returns the updated user.",
			InputSchema: objectSchema([]string{"cpf"}, map[string]*jsonschema.Schema{
				"cpf":     cpfProp("Current CPF of the user to update"),
				"name":    stringProp("New display name (optional)"),
				"new_cpf": cpfProp("New CPF (optional)"),
			}),
		},
		{
			Name:        "user_delete",
			Description: "Users tool. Delete the user holding 'cpf' together with all of their notes. This cannot be undone.",
			InputSchema: objectSchema([]string{"cpf"}, map[string]*jsonschema.Schema{
				"cpf": cpfProp("CPF of the user to delete"),
			}),
		},
		{
			Name:        "note_add",
			Description: "Notes tool. Add a note with a title and content to the user holding 'cpf'. Returns a confirmation message naming the note and its owner. Use note_list to read the note back with its id.",
			InputSchema: objectSchema([]string{"cpf", "title", "content"}, map[string]*jsonschema.Schema{
				"cpf":     cpfProp("CPF of the note owner"),
				"title":   stringProp("Title of the note"),
				"content": stringProp("Body of the note (markdown)"),
			}),
		},
		{
			Name:        "note_list",
			Description: "Notes tool. List every note of the user holding 'cpf' in the order they were added, with ids and timestamps.",
			InputSchema: objectSchema([]string{"cpf"}, map[string]*jsonschema.Schema{
				"cpf": cpfProp("CPF of the note owner"),
			}),
		},
		{
			Name:        "note_update",
			Description: "Notes tool. Change a note's title and/or content. Identify the note by owner 'cpf' and note 'id' (from note_list). Omitted fields are left unchanged. Returns the updated note with its updated_at timestamp.",
			InputSchema: objectSchema([]string{"cpf", "id"}, map[string]*jsonschema.Schema{
				"cpf":     cpfProp("CPF of the note owner"),
				"id":      stringProp("Identifier of the note to update"),
				"title":   stringProp("New title (optional)"),
				"content": stringProp("New content (optional)"),
			}),
		},
		{
			Name:        "note_delete",
			Description: "Notes tool. Delete the note 'id' of the user holding 'cpf'. Returns a confirmation message on success, or an error if the user or note does not exist.",
			InputSchema: objectSchema([]string{"cpf", "id"}, map[string]*jsonschema.Schema{
				"cpf": cpfProp("CPF of the note owner"),
				"id":  stringProp("Identifier of the note to delete"),
			}),
		},
	}
}
