package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kuitang/user-notes/internal/errs"
	"github.com/kuitang/user-notes/internal/model"
	"github.com/kuitang/user-notes/internal/store"
	"github.com/kuitang/user-notes/internal/users"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func toolResultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatalf("missing tool result content: %#v", result)
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type: %T", result.Content[0])
	}
	return text.Text
}

func parseToolErrorPayload(t *testing.T, result *mcp.CallToolResult) toolErrorPayload {
	t.Helper()
	if !result.IsError {
		t.Fatalf("expected error result, got %q", toolResultText(t, result))
	}
	raw := toolResultText(t, result)
	var payload toolErrorPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("invalid tool error payload JSON: %v body=%q", err, raw)
	}
	return payload
}

func newTestHandler() *Handler {
	return NewHandler(users.NewService(store.New()))
}

func call(t *testing.T, h *Handler, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := h.HandleToolCall(context.Background(), name, args)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func decodeResult[T any](t *testing.T, result *mcp.CallToolResult) T {
	t.Helper()
	require.False(t, result.IsError, toolResultText(t, result))
	var out T
	require.NoError(t, json.Unmarshal([]byte(toolResultText(t, result)), &out))
	return out
}

func testDecodeToolArgs_UnknownFieldsRejected(t *rapid.T) {
	extra := rapid.StringMatching(`[a-z_]{1,12}`).Filter(func(s string) bool { return s != "id" }).Draw(t, "extra")
	var decoded struct {
		ID string `json:"id"`
	}
	err := decodeToolArgs(map[string]any{
		"id":  "note-1",
		extra: "unexpected",
	}, &decoded)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if got := errs.CodeOf(err); got != errs.InvalidArgument {
		t.Fatalf("unexpected error code: got=%q want=%q", got, errs.InvalidArgument)
	}
}

func TestDecodeToolArgs_UnknownFieldsRejected(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testDecodeToolArgs_UnknownFieldsRejected)
}

func testDecodeToolArgs_NilMapBehavesAsEmptyObject(t *rapid.T) {
	var decoded struct {
		Name *string `json:"name"`
	}
	if err := decodeToolArgs(nil, &decoded); err != nil {
		t.Fatalf("nil args should decode as {}: %v", err)
	}
	if decoded.Name != nil {
		t.Fatalf("expected absent name, got %q", *decoded.Name)
	}
}

func TestDecodeToolArgs_NilMapBehavesAsEmptyObject(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testDecodeToolArgs_NilMapBehavesAsEmptyObject)
}

func TestDecodeToolArgs_WrongTypeRejected(t *testing.T) {
	t.Parallel()
	var decoded struct {
		Name *string `json:"name"`
	}
	err := decodeToolArgs(map[string]any{"name": 42}, &decoded)
	require.Error(t, err)
	assert.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
	assert.Equal(t, errs.MsgInvalidFields, errs.MessageOf(err))
}

func TestHandleToolCall_UnknownToolReturnsCodedError(t *testing.T) {
	t.Parallel()
	payload := parseToolErrorPayload(t, call(t, newTestHandler(), "app_create", nil))
	assert.Equal(t, errs.NotFound, payload.Code)
	assert.Equal(t, "unknown tool: app_create", payload.Message)
}

func TestHandleToolCall_UserLifecycle(t *testing.T) {
	t.Parallel()
	h := newTestHandler()

	created := decodeResult[model.User](t, call(t, h, "user_create", map[string]any{"name": "Ana", "cpf": "12345678901"}))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Ana", created.Name)
	assert.Empty(t, created.Notes)

	payload := parseToolErrorPayload(t, call(t, h, "user_create", map[string]any{"name": "Other", "cpf": "12345678901"}))
	assert.Equal(t, errs.AlreadyExists, payload.Code)
	assert.Equal(t, errs.MsgUserAlreadyExists, payload.Message)

	payload = parseToolErrorPayload(t, call(t, h, "user_create", map[string]any{"name": "Bia"}))
	assert.Equal(t, errs.InvalidArgument, payload.Code)
	assert.Equal(t, errs.MsgInvalidFields, payload.Message)

	updated := decodeResult[model.User](t, call(t, h, "user_update", map[string]any{"cpf": "12345678901", "new_cpf": "111.111.111-11"}))
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "Ana", updated.Name)
	assert.Equal(t, "111.111.111-11", updated.CPF)

	list := decodeResult[[]model.User](t, call(t, h, "user_list", nil))
	require.Len(t, list, 1)
	assert.Equal(t, "111.111.111-11", list[0].CPF)

	msg := decodeResult[messageResult](t, call(t, h, "user_delete", map[string]any{"cpf": "111.111.111-11"}))
	assert.Equal(t, "user 111.111.111-11 was deleted", msg.Message)

	payload = parseToolErrorPayload(t, call(t, h, "user_delete", map[string]any{"cpf": "111.111.111-11"}))
	assert.Equal(t, errs.NotFound, payload.Code)
	assert.Equal(t, errs.MsgUserNotRegistered, payload.Message)
}

func TestHandleToolCall_NoteLifecycle(t *testing.T) {
	t.Parallel()
	h := newTestHandler()
	call(t, h, "user_create", map[string]any{"name": "Ana", "cpf": "12345678901"})

	added := decodeResult[model.NoteAdded](t, call(t, h, "note_add", map[string]any{"cpf": "12345678901", "title": "Shopping", "content": "milk"}))
	assert.Equal(t, "Shopping was added into Ana's notes", added.Message)

	notes := decodeResult[[]model.Note](t, call(t, h, "note_list", map[string]any{"cpf": "12345678901"}))
	require.Len(t, notes, 1)
	id := notes[0].ID

	note := decodeResult[model.Note](t, call(t, h, "note_update", map[string]any{"cpf": "12345678901", "id": id, "content": "oat milk"}))
	assert.Equal(t, "Shopping", note.Title)
	assert.Equal(t, "oat milk", note.Content)
	assert.NotNil(t, note.UpdatedAt)

	payload := parseToolErrorPayload(t, call(t, h, "note_update", map[string]any{"cpf": "12345678901", "id": "missing", "title": "x"}))
	assert.Equal(t, errs.NotFound, payload.Code)
	assert.Equal(t, errs.MsgNoteNotRegistered, payload.Message)

	payload = parseToolErrorPayload(t, call(t, h, "note_update", map[string]any{"cpf": "12345678901", "id": id, "pinned": true}))
	assert.Equal(t, errs.InvalidArgument, payload.Code)

	msg := decodeResult[messageResult](t, call(t, h, "note_delete", map[string]any{"cpf": "12345678901", "id": id}))
	assert.Equal(t, "note "+id+" was deleted", msg.Message)

	notes = decodeResult[[]model.Note](t, call(t, h, "note_list", map[string]any{"cpf": "12345678901"}))
	assert.Empty(t, notes)

	payload = parseToolErrorPayload(t, call(t, h, "note_list", map[string]any{"cpf": "00000000000"}))
	assert.Equal(t, errs.NotFound, payload.Code)
	assert.Equal(t, errs.MsgUserNotRegistered, payload.Message)
}

func TestMarshalToolJSON_InvalidValue_DoesNotPanic(t *testing.T) {
	t.Parallel()
	out := marshalToolJSON(map[string]any{"bad": make(chan int)})
	assert.True(t, strings.HasPrefix(out, `{"error":"failed to marshal response"`), out)
}

func TestNewToolResultError_UsesStableJSONShape(t *testing.T) {
	t.Parallel()
	result := newToolResultError(errs.New(errs.NotFound, errs.MsgUserNotRegistered))
	assert.True(t, result.IsError)
	assert.JSONEq(t, `{"code":"not_found","message":"user is not registered"}`, toolResultText(t, result))

	// untyped errors never leak their cause
	result = newToolResultError(assert.AnError)
	assert.JSONEq(t, `{"code":"internal","message":"internal error"}`, toolResultText(t, result))
}

func TestToolDefinitions_MatchHandledTools(t *testing.T) {
	t.Parallel()
	h := newTestHandler()
	for _, tool := range ToolDefinitions() {
		result := call(t, h, tool.Name, map[string]any{})
		if result.IsError {
			payload := parseToolErrorPayload(t, result)
			assert.False(t, strings.HasPrefix(payload.Message, "unknown tool"), tool.Name)
		}
	}
}
