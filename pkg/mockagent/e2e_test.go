package mockagent

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/igorsilveira/parley/pkg/a2a"
	"github.com/igorsilveira/parley/pkg/agentcard"
	"github.com/igorsilveira/parley/pkg/conversation"
	"github.com/igorsilveira/parley/pkg/mcp"
	"github.com/igorsilveira/parley/pkg/transport"
)

func startAgent(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(cfg))
	t.Cleanup(srv.Close)
	return srv
}

func TestA2AConversationAgainstAgent(t *testing.T) {
	srv := startAgent(t, Config{})
	director := transport.New(transport.Config{})
	ctx := context.Background()

	ep, err := agentcard.NewResolver(director, nil).Resolve(ctx, agentcard.CardURL(srv.URL))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ep.Resolved || ep.TransportURL != srv.URL+A2APath {
		t.Fatalf("endpoint = %+v", ep)
	}

	for _, streaming := range []bool{false, true} {
		c := conversation.NewController(nil)
		s := a2a.NewSession(a2a.SessionConfig{Endpoint: ep.TransportURL, Streaming: streaming, Director: director})
		if err := c.Connect(ctx, s); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		if err := c.Send(ctx, "first artifact"); err != nil {
			t.Fatalf("streaming=%v first Send: %v", streaming, err)
		}
		taskID := c.Snapshot().ContinuityID
		if taskID == "" {
			t.Fatalf("streaming=%v: no continuity id after first turn", streaming)
		}
		if err := c.Send(ctx, "second"); err != nil {
			t.Fatalf("streaming=%v second Send: %v", streaming, err)
		}

		snap := c.Snapshot()
		if snap.ContinuityID != taskID {
			t.Errorf("streaming=%v: continuity changed %q -> %q", streaming, taskID, snap.ContinuityID)
		}
		var replies []string
		for _, m := range snap.Messages {
			if m.Role == a2a.RoleAgent {
				replies = append(replies, m.Content)
			}
		}
		if len(replies) != 2 || replies[0] != "echo: first artifact" || replies[1] != "echo: second" {
			t.Errorf("streaming=%v: replies = %q", streaming, replies)
		}
		if len(snap.Artifacts) == 0 {
			t.Errorf("streaming=%v: expected artifacts", streaming)
		}
	}
}

func TestMCPConversationAgainstAgent(t *testing.T) {
	srv := startAgent(t, Config{ReplyDelay: 50 * time.Millisecond})
	ctx := context.Background()

	c := conversation.NewController(nil)
	s := mcp.NewSession(mcp.SessionConfig{
		BaseURL:  srv.URL,
		WaitMs:   1000,
		Director: transport.New(transport.Config{}),
	})
	if err := c.Connect(ctx, s); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.Snapshot().ContinuityID == "" {
		t.Fatal("no conversation id after connect")
	}
	if err := c.Send(ctx, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs := c.Snapshot().Messages
	if len(msgs) != 2 || msgs[1].Content != "echo: hello" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestMCPBridgeAgainstStreamableEndpoint(t *testing.T) {
	srv := startAgent(t, Config{})
	ctx := context.Background()

	b := mcp.NewBridge(nil)
	if err := b.Connect(ctx, mcp.UpstreamConfig{URL: srv.URL + MCPPath}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer b.Close()

	raw, err := b.BeginChatThread(ctx)
	if err != nil {
		t.Fatalf("BeginChatThread: %v", err)
	}
	var body map[string]any
	json.Unmarshal(raw, &body)
	id, _ := mcp.ExtractConversationID(body)
	if id == "" {
		t.Fatalf("no conversation id in %s", raw)
	}

	if _, err := b.SendMessage(ctx, mcp.SendRequest{ConversationID: id, Message: "via bridge"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	raw, err = b.CheckReplies(ctx, mcp.CheckRequest{ConversationID: id, WaitMs: 500})
	if err != nil {
		t.Fatalf("CheckReplies: %v", err)
	}
	var res mcp.CheckResult
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Messages) != 1 || res.Messages[0].Text != "echo: via bridge" {
		t.Errorf("messages = %+v", res.Messages)
	}
}
