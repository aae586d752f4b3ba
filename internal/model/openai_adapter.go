package model

import (
	"context"
	"fmt"
	"io"
	"strings"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"

	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/config"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/utils"
)

type openaiChatModel struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

func newOpenAIChatModel(ctx context.Context, cfg config.OpenAIConfig) (*openaiChatModel, error) {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	// 整体超时设为0，流式回复可能长时间运行
	clientConfig.HTTPClient = utils.NewHTTPClient(0)

	return &openaiChatModel{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// 实现eino.ChatModel接口
func (m *openaiChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	resp, err := m.client.CreateChatCompletion(ctx, m.buildRequest(messages, false))
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from model")
	}

	return &schema.Message{
		Role:    schema.Assistant,
		Content: resp.Choices[0].Message.Content,
	}, nil
}

func (m *openaiChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	stream, err := m.client.CreateChatCompletionStream(ctx, m.buildRequest(messages, true))
	if err != nil {
		return nil, err
	}

	reader, writer := schema.Pipe[*schema.Message](100)

	go func() {
		defer writer.Close()
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if err == io.EOF {
					return
				}
				// 中途错误透传给消费方，由上层决定兜底行为
				writer.Send(nil, err)
				return
			}

			if len(response.Choices) > 0 && response.Choices[0].Delta.Content != "" {
				writer.Send(&schema.Message{
					Role:    schema.Assistant,
					Content: response.Choices[0].Delta.Content,
				}, nil)
			}
		}
	}()

	return reader, nil
}

func (m *openaiChatModel) BindTools(tools []*schema.ToolInfo) error {
	// 函数调用暂未接入
	return nil
}

func (m *openaiChatModel) buildRequest(messages []*schema.Message, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    m.convertMessages(messages),
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
		Stream:      stream,
	}
}

// convertMessages 转为OpenAI消息格式
func (m *openaiChatModel) convertMessages(messages []*schema.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case schema.Assistant:
			role = openai.ChatMessageRoleAssistant
		case schema.System:
			role = openai.ChatMessageRoleSystem
		}

		if len(msg.MultiContent) > 0 {
			result = append(result, openai.ChatCompletionMessage{
				Role:         role,
				MultiContent: m.convertParts(msg.MultiContent),
			})
			continue
		}

		// 跳过空的assistant消息，部分端点会因此报错
		if msg.Content == "" && role == openai.ChatMessageRoleAssistant {
			continue
		}

		result = append(result, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	return result
}

func (m *openaiChatModel) convertParts(parts []schema.ChatMessagePart) []openai.ChatMessagePart {
	result := make([]openai.ChatMessagePart, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case schema.ChatMessagePartTypeText:
			result = append(result, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		case schema.ChatMessagePartTypeImageURL:
			if part.ImageURL != nil {
				result = append(result, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL.URL},
				})
			}
		case schema.ChatMessagePartTypeFileURL:
			if part.FileURL != nil {
				result = append(result, m.convertFilePart(part.FileURL))
			}
		}
	}

	return result
}

// convertFilePart 兼容端点没有统一的文件通道
// 图片走vision格式，文本附件解码后内联，其余类型降级为文件名说明
func (m *openaiChatModel) convertFilePart(file *schema.ChatMessageFileURL) openai.ChatMessagePart {
	switch {
	case strings.HasPrefix(file.MIMEType, "image/"):
		return openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: file.URL},
		}
	case strings.HasPrefix(file.MIMEType, "text/"):
		raw, err := decodeDataURL(file.URL)
		if err == nil {
			return openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: fmt.Sprintf("[文件 %s]\n%s", file.Name, raw),
			}
		}
	}

	return openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: fmt.Sprintf("[文件 %s（%s），内容无法在当前通道传输]", file.Name, file.MIMEType),
	}
}
