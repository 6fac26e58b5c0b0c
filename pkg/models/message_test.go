package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
		{RoleTool, "tool"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestCategory_Constants(t *testing.T) {
	tests := []struct {
		constant Category
		expected string
	}{
		{CategorySystemPrompt, "SYSTEM_PROMPT"},
		{CategoryContext, "CONTEXT"},
		{CategoryDialog, "DIALOG"},
		{CategoryToolResult, "TOOL_RESULT"},
		{CategoryStatus, "STATUS"},
		{CategoryReasoning, "REASONING"},
	}
	for _, tt := range tests {
		if string(tt.constant) != tt.expected {
			t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
		}
	}
}

func TestMessage_Struct(t *testing.T) {
	now := time.Now()
	msg := Message{
		ID:        "msg-123",
		SessionID: "session-456",
		AgentID:   "agent-1",
		Role:      RoleUser,
		Category:  CategoryDialog,
		Content:   "Hello, world!",
		Metadata:  map[string]any{"key": "value"},
		CreatedAt: now,
	}

	if msg.ID != "msg-123" {
		t.Errorf("ID = %q, want %q", msg.ID, "msg-123")
	}
	if msg.Role != RoleUser {
		t.Errorf("Role = %v, want %v", msg.Role, RoleUser)
	}
	if msg.Category != CategoryDialog {
		t.Errorf("Category = %v, want %v", msg.Category, CategoryDialog)
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	original := Message{
		ID:          "msg-123",
		SessionID:   "session-456",
		AgentID:     "agent-1",
		Role:        RoleAssistant,
		Category:    CategoryDialog,
		Content:     "Hello!",
		Parts:       []ContentPart{TextPart("Hello!")},
		Attachments: []Attachment{{ID: "att-1", Type: "image", URL: "http://example.com/img.png"}},
		ToolCalls:   []ToolCall{{ID: "tc-1", Name: "search", Input: json.RawMessage(`{"q":"test"}`)}},
		ToolResults: []ToolResult{{ToolCallID: "tc-1", Content: "result", IsError: false}},
		Metadata:    map[string]any{"source": "test"},
		CreatedAt:   now,
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.ID != original.ID {
		t.Errorf("ID = %q, want %q", decoded.ID, original.ID)
	}
	if len(decoded.Parts) != 1 || decoded.Parts[0].Text != "Hello!" {
		t.Errorf("Parts = %+v, want one text part", decoded.Parts)
	}
	if len(decoded.Attachments) != 1 {
		t.Errorf("Attachments length = %d, want 1", len(decoded.Attachments))
	}
	if len(decoded.ToolCalls) != 1 {
		t.Errorf("ToolCalls length = %d, want 1", len(decoded.ToolCalls))
	}
	if len(decoded.ToolResults) != 1 {
		t.Errorf("ToolResults length = %d, want 1", len(decoded.ToolResults))
	}
}

func TestAttachment_Struct(t *testing.T) {
	att := Attachment{
		ID:       "att-123",
		Type:     "image",
		URL:      "http://example.com/image.png",
		Filename: "image.png",
		MimeType: "image/png",
		Size:     1024,
	}

	if att.ID != "att-123" {
		t.Errorf("ID = %q, want %q", att.ID, "att-123")
	}
	if att.Size != 1024 {
		t.Errorf("Size = %d, want 1024", att.Size)
	}
}

func TestToolResult_Struct(t *testing.T) {
	tr := ToolResult{
		ToolCallID: "tc-123",
		Content:    "Search results here",
		IsError:    false,
	}

	if tr.ToolCallID != "tc-123" {
		t.Errorf("ToolCallID = %q, want %q", tr.ToolCallID, "tc-123")
	}
	if tr.IsError {
		t.Error("IsError should be false")
	}

	trTimedOut := ToolResult{ToolCallID: "tc-456", TimedOut: true, IsError: true, Content: "timed out"}
	if !trTimedOut.TimedOut {
		t.Error("TimedOut should be true")
	}
}

func TestSession_Struct(t *testing.T) {
	now := time.Now()
	session := Session{
		ID:        "session-123",
		AgentID:   "agent-456",
		Key:       "unique-key",
		Title:     "Test Session",
		Metadata:  map[string]any{"test": true},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if session.ID != "session-123" {
		t.Errorf("ID = %q, want %q", session.ID, "session-123")
	}
	if session.AgentID != "agent-456" {
		t.Errorf("AgentID = %q, want %q", session.AgentID, "agent-456")
	}
}
