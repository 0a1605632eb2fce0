package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const workflowPromptName = "user_notes_workflow"

const workflowPromptText = "Users are identified by CPF, an 11 digit number written bare or as 000.000.000-00. " +
	"Create a user with user_create before adding notes to it. Use note_list to find note ids before " +
	"note_update or note_delete. Deleting a user with user_delete also deletes all of their notes."

func registerPrompts(mcpServer *mcp.Server) {
	for _, prompt := range PromptDefinitions() {
		mcpServer.AddPrompt(prompt, promptHandler())
	}
}

// PromptDefinitions returns the MCP prompt definitions.
func PromptDefinitions() []*mcp.Prompt {
	return []*mcp.Prompt{
		{
			Name:        workflowPromptName,
			Title:       "Users and notes workflow",
			Description: "How users, CPFs and notes relate across the tools.",
		},
	}
}

func promptHandler() mcp.PromptHandler {
	return func(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Description: "How users, CPFs and notes relate across the tools.",
			Messages: []*mcp.PromptMessage{
				{
					Role:    mcp.Role("user"),
					Content: &mcp.TextContent{Text: workflowPromptText},
				},
			},
		}, nil
	}
}
