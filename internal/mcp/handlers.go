package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/kuitang/user-notes/internal/errs"
	"github.com/kuitang/user-notes/internal/guard"
	"github.com/kuitang/user-notes/internal/users"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Handler implements MCP tool call handling.
type Handler struct {
	users *users.Service
}

// NewHandler creates a new MCP handler over the users service.
func NewHandler(svc *users.Service) *Handler {
	return &Handler{users: svc}
}

// toolErrorPayload is the JSON body of every failed tool result.
type toolErrorPayload struct {
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
}

// createToolHandler returns a tool handler function for the given tool name.
func (h *Handler) createToolHandler(name string) func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		result, err := h.HandleToolCall(ctx, name, args)
		return result, nil, err
	}
}

// HandleToolCall routes tool calls to appropriate handlers. Service failures
// are reported as error results, never as a protocol error.
func (h *Handler) HandleToolCall(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	var (
		value any
		err   error
	)
	switch name {
	case "user_create":
		value, err = h.handleUserCreate(ctx, arguments)
	case "user_list":
		value, err = h.handleUserList(ctx, arguments)
	case "user_update":
		value, err = h.handleUserUpdate(ctx, arguments)
	case "user_delete":
		value, err = h.handleUserDelete(ctx, arguments)
	case "note_add":
		value, err = h.handleNoteAdd(ctx, arguments)
	case "note_list":
		value, err = h.handleNoteList(ctx, arguments)
	case "note_update":
		value, err = h.handleNoteUpdate(ctx, arguments)
	case "note_delete":
		value, err = h.handleNoteDelete(ctx, arguments)
	default:
		err = errs.New(errs.NotFound, fmt.Sprintf("unknown tool: %s", name))
	}
	if err != nil {
		return newToolResultError(err), nil
	}
	return newToolResultText(marshalToolJSON(value)), nil
}

// decodeToolArgs decodes args into dst, rejecting unknown fields and
// mistyped values as invalid fields.
func decodeToolArgs(args map[string]any, dst any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return errs.InvalidFields(err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.InvalidFields(err)
	}
	return nil
}

// body copies the set fields into a request body. Nil pointers are absent.
func body(fields map[string]*string) guard.Body {
	b := guard.Body{}
	for k, v := range fields {
		if v != nil {
			b[k] = *v
		}
	}
	return b
}

type cpfArgs struct {
	CPF string `json:"cpf"`
}

type noteRefArgs struct {
	CPF string `json:"cpf"`
	ID  string `json:"id"`
}

type messageResult struct {
	Message string `json:"message"`
}

func (h *Handler) handleUserCreate(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		Name *string `json:"name"`
		CPF  *string `json:"cpf"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	return h.users.CreateUser(ctx, body(map[string]*string{"name": in.Name, "cpf": in.CPF}))
}

func (h *Handler) handleUserList(ctx context.Context, args map[string]any) (any, error) {
	var in struct{}
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	return h.users.ListUsers(ctx), nil
}

func (h *Handler) handleUserUpdate(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		CPF    string  `json:"cpf"`
		Name   *string `json:"name"`
		NewCPF *string `json:"new_cpf"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	return h.users.UpdateUser(ctx, in.CPF, body(map[string]*string{"name": in.Name, "cpf": in.NewCPF}))
}

func (h *Handler) handleUserDelete(ctx context.Context, args map[string]any) (any, error) {
	var in cpfArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	if err := h.users.DeleteUser(ctx, in.CPF); err != nil {
		return nil, err
	}
	return messageResult{Message: fmt.Sprintf("user %s was deleted", in.CPF)}, nil
}

func (h *Handler) handleNoteAdd(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		CPF     string  `json:"cpf"`
		Title   *string `json:"title"`
		Content *string `json:"content"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	return h.users.AddNote(ctx, in.CPF, body(map[string]*string{"title": in.Title, "content": in.Content}))
}

func (h *Handler) handleNoteList(ctx context.Context, args map[string]any) (any, error) {
	var in cpfArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	return h.users.ListNotes(ctx, in.CPF)
}

func (h *Handler) handleNoteUpdate(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		noteRefArgs
		Title   *string `json:"title"`
		Content *string `json:"content"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	return h.users.UpdateNote(ctx, in.CPF, in.ID, body(map[string]*string{"title": in.Title, "content": in.Content}))
}

func (h *Handler) handleNoteDelete(ctx context.Context, args map[string]any) (any, error) {
	var in noteRefArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	if err := h.users.DeleteNote(ctx, in.CPF, in.ID); err != nil {
		return nil, err
	}
	return messageResult{Message: fmt.Sprintf("note %s was deleted", in.ID)}, nil
}

// newToolResultText creates a successful tool result with text content.
func newToolResultText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// newToolResultError creates a tool result carrying the coded error as JSON.
func newToolResultError(err error) *mcp.CallToolResult {
	payload := toolErrorPayload{Code: errs.CodeOf(err), Message: errs.MessageOf(err)}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: marshalToolJSON(payload)},
		},
		IsError: true,
	}
}

func marshalToolJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response","detail":%q}`, err.Error())
	}
	return string(data)
}
