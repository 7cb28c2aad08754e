package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	classifyTimeout = 10 * time.Second
	extractTimeout  = 20 * time.Second
	replyTimeout    = 15 * time.Second
	maxRetries      = 1
)

// Client wraps the OpenAI SDK and provides utility helpers.
type Client struct {
	apiKey string
	client *openai.Client
	model  openai.ChatModel
	loc    *time.Location
}

// WithLocation sets the timezone used to tell the model what day it is.
func (c *Client) WithLocation(loc *time.Location) *Client {
	c.loc = loc
	return c
}

// ErrClientNotInitialised is returned when attempting to call the API without a configured client.
var ErrClientNotInitialised = errors.New("openai client not initialised")

// ErrNoCompletion is returned when the API answers without any choice.
var ErrNoCompletion = errors.New("no completion received")

// New returns an OpenAI client. When apiKey is empty every call fails with
// ErrClientNotInitialised. An empty model selects gpt-4o-mini.
func New(apiKey, model string) *Client {
	if apiKey == "" {
		return &Client{}
	}
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(maxRetries),
	)
	return &Client{
		apiKey: apiKey,
		client: &client,
		model:  openai.ChatModel(model),
	}
}

// Enabled reports whether an API key was configured.
func (c *Client) Enabled() bool {
	return c != nil && c.client != nil
}

// ClassifyIntent asks the model for exactly one label out of reminder,
// weather and chat. Interpreting the label is left to the caller.
func (c *Client) ClassifyIntent(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("content cannot be empty")
	}
	return c.complete(ctx, completion{
		system: "You classify messages sent to a WhatsApp assistant. Reply with exactly one lowercase word and nothing else:\n" +
			"- reminder: the user wants to create a reminder, schedule an appointment or be notified later\n" +
			"- weather: the user asks about weather, temperature, rain or a forecast\n" +
			"- chat: anything else",
		user:        content,
		temperature: 0,
		maxTokens:   4,
		timeout:     classifyTimeout,
	})
}

// Reply produces a very short general answer.
func (c *Client) Reply(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("content cannot be empty")
	}
	return c.complete(ctx, completion{
		system:      "You are an extremely concise assistant. At most 15 words per answer. No introductions or conclusions, only the essential facts.",
		user:        content,
		temperature: 0.3,
		maxTokens:   60,
		timeout:     replyTimeout,
	})
}

type completion struct {
	system      string
	user        string
	temperature float64
	maxTokens   int64
	timeout     time.Duration
}

func (c *Client) complete(ctx context.Context, in completion) (string, error) {
	if !c.Enabled() {
		return "", ErrClientNotInitialised
	}

	req := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(in.system),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(in.user),
					},
				},
			},
		},
		Temperature:         openai.Float(in.temperature),
		MaxCompletionTokens: openai.Int(in.maxTokens),
	}

	ctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoCompletion
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
