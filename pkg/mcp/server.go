package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

type beginArgs struct{}

// NewServer exposes a Triplet as an MCP server with one tool per triplet call.
func NewServer(name, version string, t Triplet) *mcpsdk.Server {
	s := mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: version}, nil)

	mcpsdk.AddTool(s, &mcpsdk.Tool{
		Name:        ToolBegin,
		Description: "Start a new chat thread and return its conversation id.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, _ beginArgs) (*mcpsdk.CallToolResult, any, error) {
		raw, err := t.BeginChatThread(ctx)
		if err != nil {
			return nil, nil, err
		}
		var res BeginResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, nil, fmt.Errorf("mcp: decoding begin result: %w", err)
		}
		out := &mcpsdk.CallToolResult{}
		for _, c := range res.Content {
			out.Content = append(out.Content, &mcpsdk.TextContent{Text: c.Text})
		}
		return out, nil, nil
	})

	mcpsdk.AddTool(s, &mcpsdk.Tool{
		Name:        ToolSend,
		Description: "Send a message to an existing chat thread. Replies arrive through check_replies.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in SendRequest) (*mcpsdk.CallToolResult, any, error) {
		raw, err := t.SendMessage(ctx, in)
		return textResult(raw, err)
	})

	mcpsdk.AddTool(s, &mcpsdk.Tool{
		Name:        ToolCheck,
		Description: "Wait up to waitMs for replies on a chat thread.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in CheckRequest) (*mcpsdk.CallToolResult, any, error) {
		raw, err := t.CheckReplies(ctx, in)
		return textResult(raw, err)
	})

	return s
}

func textResult(raw json.RawMessage, err error) (*mcpsdk.CallToolResult, any, error) {
	if err != nil {
		return &mcpsdk.CallToolResult{
			IsError: true,
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
		}, nil, nil
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(raw)}},
	}, nil, nil
}
