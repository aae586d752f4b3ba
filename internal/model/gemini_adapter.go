package model

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/config"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/utils"
)

type geminiChatModel struct {
	client      *genai.Client
	model       string
	temperature float32
}

func newGeminiChatModel(ctx context.Context, cfg config.GeminiConfig) (*geminiChatModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		// 整体超时设为0，流式回复可能长时间运行
		HTTPClient: utils.NewHTTPClient(0),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &geminiChatModel{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// 实现eino.ChatModel接口
func (m *geminiChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	contents, system, err := m.convertContents(messages)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, m.genConfig(system))
	if err != nil {
		return nil, err
	}

	return &schema.Message{
		Role:    schema.Assistant,
		Content: responseText(resp),
	}, nil
}

func (m *geminiChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	contents, system, err := m.convertContents(messages)
	if err != nil {
		return nil, err
	}

	reader, writer := schema.Pipe[*schema.Message](100)

	go func() {
		defer writer.Close()

		for resp, err := range m.client.Models.GenerateContentStream(ctx, m.model, contents, m.genConfig(system)) {
			if err != nil {
				writer.Send(nil, err)
				return
			}
			if text := responseText(resp); text != "" {
				writer.Send(&schema.Message{
					Role:    schema.Assistant,
					Content: text,
				}, nil)
			}
		}
	}()

	return reader, nil
}

func (m *geminiChatModel) BindTools(tools []*schema.ToolInfo) error {
	// 函数调用暂未接入
	return nil
}

// convertContents 转为Gemini请求格式
// system消息单独拆出作为系统指令，assistant角色映射为model
func (m *geminiChatModel) convertContents(messages []*schema.Message) ([]*genai.Content, *genai.Content, error) {
	var system *genai.Content
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == schema.System {
			system = &genai.Content{Parts: []*genai.Part{{Text: msg.Content}}}
			continue
		}

		role := "user"
		if msg.Role == schema.Assistant {
			role = "model"
		}

		parts, err := m.convertParts(msg)
		if err != nil {
			return nil, nil, err
		}
		// 跳过没有任何内容的轮次，接口不接受空parts
		if len(parts) == 0 {
			continue
		}

		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: parts,
		})
	}

	return contents, system, nil
}

func (m *geminiChatModel) convertParts(msg *schema.Message) ([]*genai.Part, error) {
	if len(msg.MultiContent) == 0 {
		if msg.Content == "" {
			return nil, nil
		}
		return []*genai.Part{{Text: msg.Content}}, nil
	}

	parts := make([]*genai.Part, 0, len(msg.MultiContent))
	for _, part := range msg.MultiContent {
		switch part.Type {
		case schema.ChatMessagePartTypeText:
			parts = append(parts, &genai.Part{Text: part.Text})
		case schema.ChatMessagePartTypeFileURL:
			if part.FileURL == nil {
				continue
			}
			raw, err := decodeDataURL(part.FileURL.URL)
			if err != nil {
				return nil, fmt.Errorf("failed to decode file part %s: %w", part.FileURL.Name, err)
			}
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{
					MIMEType: part.FileURL.MIMEType,
					Data:     raw,
				},
			})
		case schema.ChatMessagePartTypeImageURL:
			if part.ImageURL == nil {
				continue
			}
			raw, err := decodeDataURL(part.ImageURL.URL)
			if err != nil {
				return nil, fmt.Errorf("failed to decode image part: %w", err)
			}
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{
					MIMEType: part.ImageURL.MIMEType,
					Data:     raw,
				},
			})
		}
	}

	return parts, nil
}

func (m *geminiChatModel) genConfig(system *genai.Content) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if m.temperature > 0 {
		cfg.Temperature = genai.Ptr(m.temperature)
	}
	if system != nil {
		cfg.SystemInstruction = system
	}
	return cfg
}

// responseText 拼接单个响应里的全部文本片段
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// decodeDataURL 解析 data:<mime>;base64,<payload> 形式的内联数据
func decodeDataURL(url string) ([]byte, error) {
	idx := strings.Index(url, ",")
	if !strings.HasPrefix(url, "data:") || idx < 0 {
		return nil, fmt.Errorf("not a base64 data url")
	}
	return base64.StdEncoding.DecodeString(url[idx+1:])
}
