package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolCaller is the part of an MCP client session the bridge needs.
type ToolCaller interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
}

func callTool(ctx context.Context, caller ToolCaller, name string, args any) ([]string, error) {
	result, err := caller.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp tool %s: call failed: %w", name, err)
	}

	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}

	if result.IsError {
		return nil, fmt.Errorf("mcp tool %s: %s", name, strings.Join(parts, "\n"))
	}
	return parts, nil
}

// decodeToolJSON turns the first text block of a tool result into a JSON body. Text that
// is not JSON is wrapped as a single reply message.
func decodeToolJSON(parts []string, fallbackStatus string) json.RawMessage {
	if len(parts) == 0 {
		raw, _ := json.Marshal(map[string]any{"status": fallbackStatus})
		return raw
	}
	text := strings.TrimSpace(parts[0])
	if strings.HasPrefix(text, "{") && json.Valid([]byte(text)) {
		return json.RawMessage(text)
	}
	raw, _ := json.Marshal(CheckResult{
		Status:   fallbackStatus,
		Messages: []ReplyMessage{{Role: "agent", Text: strings.Join(parts, "\n")}},
	})
	return raw
}
