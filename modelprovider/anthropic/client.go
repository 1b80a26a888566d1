// Package anthropic provides a streamproc.ModelProvider implementation
// backed by the Anthropic Claude Messages API. It is a reference adapter for
// the demo binary and its tests; the runtime package never imports it
// directly, preserving the ModelProvider black-box boundary (spec §1).
//
// Grounded on features/model/anthropic's MessagesClient subset interface and
// its goroutine-plus-channel streaming adapter (anthropicStreamer), adapted
// here to populate streamproc.Delta instead of the teacher's model.Chunk.
package anthropic

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentnode/core/runtime/agent/streamproc"
)

// MessagesClient captures the subset of the Anthropic SDK client this
// adapter depends on, so tests can substitute a fake.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures the adapter's default model parameters.
type Options struct {
	Model       string
	MaxTokens   int64
	Temperature float64
}

// Client implements streamproc.ModelProvider on top of Anthropic Claude
// Messages.
type Client struct {
	msg  MessagesClient
	opts Options
}

// New constructs a Client from an Anthropic Messages client and options.
func New(msg MessagesClient, opts Options) *Client {
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	return &Client{msg: msg, opts: opts}
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP client
// configured from apiKey.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts), nil
}

// Stream opens an Anthropic streaming request for req and adapts the SSE
// event stream into a streamproc.DeltaStream (spec §4.5).
func (c *Client) Stream(ctx context.Context, req streamproc.Request) (streamproc.DeltaStream, error) {
	body := sdk.MessageNewParams{
		Model:       sdk.Model(c.opts.Model),
		MaxTokens:   c.opts.MaxTokens,
		Temperature: sdk.Float(c.opts.Temperature),
		Messages:    encodeMessages(req.History),
		Tools:       encodeTools(req.Tools),
	}
	raw := c.msg.NewStreaming(ctx, body)
	return newDeltaStream(ctx, raw), nil
}

func encodeMessages(history []streamproc.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(history))
	for _, m := range history {
		text := extractText(m.Parts)
		switch m.Role {
		case "agent", "assistant":
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(text)))
		default:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(text)))
		}
	}
	return out
}

func extractText(parts []any) string {
	for _, p := range parts {
		if m, ok := p.(map[string]any); ok {
			if m["kind"] == "text" {
				if t, ok := m["text"].(string); ok {
					return t
				}
			}
		}
	}
	return ""
}

func encodeTools(tools []streamproc.ToolDescriptor) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := sdk.ToolInputSchemaParam{ExtraFields: t.InputSchema}
		u := sdk.ToolUnionParamOfTool(schema, t.Name)
		if u.OfTool != nil && t.Description != "" {
			u.OfTool.Description = sdk.String(t.Description)
		}
		out = append(out, u)
	}
	return out
}
