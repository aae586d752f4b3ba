package model

import (
	"encoding/base64"
	"testing"

	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

func TestGeminiConvertContents_RoleMapping(t *testing.T) {
	m := &geminiChatModel{model: "gemini-2.0-flash"}

	contents, system, err := m.convertContents([]*schema.Message{
		{Role: schema.System, Content: "你是一个助手"},
		{Role: schema.User, Content: "你好"},
		{Role: schema.Assistant, Content: "你好，有什么可以帮你？"},
	})
	if err != nil {
		t.Fatalf("convertContents: %v", err)
	}

	if system == nil || len(system.Parts) != 1 || system.Parts[0].Text != "你是一个助手" {
		t.Errorf("system = %+v, want system instruction extracted", system)
	}
	if len(contents) != 2 {
		t.Fatalf("len(contents) = %d, want 2", len(contents))
	}
	if contents[0].Role != "user" {
		t.Errorf("contents[0].Role = %q, want user", contents[0].Role)
	}
	if contents[1].Role != "model" {
		t.Errorf("contents[1].Role = %q, want model", contents[1].Role)
	}
}

func TestGeminiConvertContents_SkipsEmptyTurns(t *testing.T) {
	m := &geminiChatModel{}

	contents, _, err := m.convertContents([]*schema.Message{
		{Role: schema.User, Content: "hi"},
		{Role: schema.Assistant, Content: ""},
	})
	if err != nil {
		t.Fatalf("convertContents: %v", err)
	}
	if len(contents) != 1 {
		t.Errorf("len(contents) = %d, want empty assistant turn skipped", len(contents))
	}
}

func TestGeminiConvertParts_InlineFile(t *testing.T) {
	m := &geminiChatModel{}
	payload := []byte("%PDF-1.4 fake")
	dataURL := "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(payload)

	parts, err := m.convertParts(&schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{
				Type: schema.ChatMessagePartTypeFileURL,
				FileURL: &schema.ChatMessageFileURL{
					URL:      dataURL,
					MIMEType: "application/pdf",
					Name:     "doc.pdf",
				},
			},
			{Type: schema.ChatMessagePartTypeText, Text: "总结一下"},
		},
	})
	if err != nil {
		t.Fatalf("convertParts: %v", err)
	}

	if len(parts) != 2 {
		t.Fatalf("len(parts) = %d, want 2", len(parts))
	}
	if parts[0].InlineData == nil {
		t.Fatal("parts[0].InlineData = nil, want inline blob first")
	}
	if parts[0].InlineData.MIMEType != "application/pdf" {
		t.Errorf("blob mime = %q, want application/pdf", parts[0].InlineData.MIMEType)
	}
	if string(parts[0].InlineData.Data) != string(payload) {
		t.Errorf("blob data = %q, want decoded payload", parts[0].InlineData.Data)
	}
	if parts[1].Text != "总结一下" {
		t.Errorf("parts[1].Text = %q, want text part second", parts[1].Text)
	}
}

func TestGeminiConvertParts_BadDataURL(t *testing.T) {
	m := &geminiChatModel{}

	_, err := m.convertParts(&schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{
				Type:    schema.ChatMessagePartTypeFileURL,
				FileURL: &schema.ChatMessageFileURL{URL: "http://example.com/a.pdf", Name: "a.pdf"},
			},
		},
	})
	if err == nil {
		t.Error("convertParts accepted a non-data url, want error")
	}
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Parts: []*genai.Part{{Text: "你好"}, {Text: "世界"}},
				},
			},
		},
	}

	if got := responseText(resp); got != "你好世界" {
		t.Errorf("responseText = %q, want concatenated parts", got)
	}
	if got := responseText(nil); got != "" {
		t.Errorf("responseText(nil) = %q, want empty", got)
	}
	if got := responseText(&genai.GenerateContentResponse{}); got != "" {
		t.Errorf("responseText(empty) = %q, want empty", got)
	}
}

func TestDecodeDataURL(t *testing.T) {
	raw, err := decodeDataURL("data:text/plain;base64,SGVsbG8=")
	if err != nil {
		t.Fatalf("decodeDataURL: %v", err)
	}
	if string(raw) != "Hello" {
		t.Errorf("decoded = %q, want Hello", raw)
	}

	if _, err := decodeDataURL("https://example.com"); err == nil {
		t.Error("decodeDataURL accepted a plain url, want error")
	}
	if _, err := decodeDataURL("data:text/plain;base64,@@@"); err == nil {
		t.Error("decodeDataURL accepted invalid base64, want error")
	}
}
