// Package prompt condenses long narrative prompts into compact visual
// prompts before generation. Summarization is best-effort: any failure falls
// back to the caller's original text so a generation never dies on the
// summarizer's account.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

// Options configures the summarizer.
type Options struct {
	APIKey   string
	BaseURL  string
	Model    string
	MaxWords int
	Timeout  time.Duration
	Logger   *slog.Logger
	Extra    []option.RequestOption
}

// Summarizer rewrites prompts through a chat model. A nil Summarizer is
// valid and passes prompts through unchanged.
type Summarizer struct {
	client   *openai.Client
	model    string
	maxWords int
	timeout  time.Duration
	logger   *slog.Logger
}

func NewSummarizer(opts Options) *Summarizer {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = "https://api.together.xyz/v1"
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = "deepseek-ai/DeepSeek-V3"
	}
	if opts.MaxWords <= 0 {
		opts.MaxWords = 300
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	requestOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")),
	}
	requestOpts = append(requestOpts, opts.Extra...)
	client := openai.NewClient(requestOpts...)

	return &Summarizer{
		client:   &client,
		model:    opts.Model,
		maxWords: opts.MaxWords,
		timeout:  opts.Timeout,
		logger:   opts.Logger.With("component", "summarizer"),
	}
}

// Summarize condenses text into a visual prompt of at most maxWords words.
// requiredNames are adapter trigger words that must survive the rewrite. On
// any failure the original text comes back untouched and the second return
// is false.
func (s *Summarizer) Summarize(ctx context.Context, text string, requiredNames []string) (string, bool) {
	if s == nil || strings.TrimSpace(text) == "" {
		return text, false
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(s.systemPrompt(requiredNames)),
			openai.UserMessage(fmt.Sprintf("Extract visual prompt in %d words max:\n\n%s", s.maxWords, text)),
		},
		MaxTokens:   param.NewOpt(int64(s.maxWords + 50)),
		Temperature: param.NewOpt(0.2),
		TopP:        param.NewOpt(0.85),
	}

	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		s.logger.Warn("summarization failed, using original prompt", "error", err)
		return text, false
	}
	if len(resp.Choices) == 0 {
		s.logger.Warn("summarization returned no choices, using original prompt")
		return text, false
	}
	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		s.logger.Warn("summarization returned empty content, using original prompt")
		return text, false
	}

	s.logger.Info("prompt summarized",
		"original_words", len(strings.Fields(text)),
		"summary_words", len(strings.Fields(summary)),
		"elapsed", time.Since(start))
	return summary, true
}

func (s *Summarizer) systemPrompt(requiredNames []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a visual prompt engineer for image generation. Extract explicit visual instructions from narrative text in %d words or less.\n\n", s.maxWords)
	b.WriteString("CHARACTER NAME RULE (MANDATORY):\n")
	b.WriteString("- PRESERVE ALL CHARACTER NAMES EXACTLY AS WRITTEN - never replace a name with a generic description\n")
	b.WriteString("- Names are style adapter triggers - changing them breaks the image\n\n")
	b.WriteString("MULTI-CHARACTER RULES:\n")
	b.WriteString("- State exact spatial positions and who does what to whom\n")
	b.WriteString("- Use directional terms: foreground/background, left/right, facing toward/away\n")
	b.WriteString("- For 3+ characters: focus on the primary interaction, place others as visible in frame\n\n")
	b.WriteString("STRUCTURE:\n")
	b.WriteString("[character name + appearance] + [action with positions] + [camera angle/framing] + \"photorealistic, detailed\"\n\n")
	b.WriteString("Remove: dialogue, internal thoughts, meta-commentary, filler text, repetition.\n")
	b.WriteString("Output ONLY the visual prompt. No explanations.")
	if len(requiredNames) > 0 {
		fmt.Fprintf(&b, "\n\nMANDATORY WORDS TO INCLUDE: %s - these MUST appear in your output, they are adapter triggers", strings.Join(requiredNames, ", "))
	}
	return b.String()
}
