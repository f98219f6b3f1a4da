package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonschema"
	"github.com/postpipe/internal/db"
	"github.com/postpipe/internal/logging"
)

const (
	defaultOutlineMaxTokens   = 800
	defaultDraftMaxTokens     = 3000
	defaultOutlineTemperature = 0.4
	defaultDraftTemperature   = 0.7
)

const outlineSystemPrompt = `You plan long-form articles. Reply with a JSON array only, no prose and no code fences.
Each element is {"level": <1-3>, "heading": "<section heading>", "points": ["<key point>", ...]}.`

const draftSystemPrompt = `You write long-form articles in Markdown. Follow the outline's headings in order,
use "#" characters matching each section level, and reply with the article body only.`

// outlineSchema constrains the outline returned by the model.
var outlineSchema = []byte(`{
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "required": ["level", "heading"],
    "properties": {
      "level": {"type": "integer", "minimum": 1, "maximum": 6},
      "heading": {"type": "string", "minLength": 1},
      "points": {"type": "array", "items": {"type": "string"}}
    }
  }
}`)

// GenerationService drafts outlines and article bodies with a chat model and
// stores them as new versions through the post service.
type GenerationService struct {
	client *aiChatClient
	logger *slog.Logger
	schema *jsonschema.Schema
	posts  *PostService
}

// NewGenerationService builds a generator for an OpenAI compatible endpoint.
// A nil client uses a default http.Client.
func NewGenerationService(baseURL, apiKey, model string, client httpDoer, logger *slog.Logger) (*GenerationService, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	schema, err := jsonschema.NewCompiler().Compile(outlineSchema)
	if err != nil {
		return nil, fmt.Errorf("compile outline schema: %w", err)
	}
	return &GenerationService{
		client: newAIChatClient(baseURL, apiKey, model, client),
		logger: logger,
		schema: schema,
	}, nil
}

// GenerateOutline asks the model for an outline of the post's title and
// stores it as a draft version. A draft post moves to outline.
func (s *GenerationService) GenerateOutline(ctx context.Context, postID uint, actor string) (*db.Version, *db.Post, error) {
	post, version, err := s.current(ctx, postID)
	if err != nil {
		return nil, nil, err
	}

	notes, _ := compressImageURLs(version.Content)
	prompt := buildOutlinePrompt(post.Title, post.TargetKeyword, notes)
	logAIExchange(s.logger, "OUTLINE", "prompt", prompt)

	resp, err := s.client.call(ctx, aiChatRequest{
		SystemPrompt: outlineSystemPrompt,
		UserPrompt:   prompt,
		MaxTokens:    defaultOutlineMaxTokens,
		Temperature:  defaultOutlineTemperature,
	})
	if err != nil {
		return nil, nil, err
	}
	logAIExchange(s.logger, "OUTLINE", "response", resp.Content)

	outline, err := s.ParseOutline(resp.Content)
	if err != nil {
		return nil, nil, err
	}

	return s.posts.EditContent(ctx, postID, EditInput{
		VersionFields: VersionFields{
			Outline:       &outline,
			ChangeSummary: "generated outline",
		},
		ChangeType: db.ChangeTypeDraft,
		Actor:      actor,
	})
}

// GenerateDraft writes a body from the current outline and stores it as a
// draft version. An outline post moves to writing.
func (s *GenerationService) GenerateDraft(ctx context.Context, postID uint, actor string) (*db.Version, *db.Post, error) {
	post, version, err := s.current(ctx, postID)
	if err != nil {
		return nil, nil, err
	}
	if !version.HasOutline() {
		return nil, nil, fmt.Errorf("%w: post has no outline", ErrInvalidOutline)
	}

	notes, images := compressImageURLs(version.Content)
	prompt := buildDraftPrompt(post.Title, post.TargetKeyword, version.OutlineSections(), notes, images.Count() > 0)
	logAIExchange(s.logger, "DRAFT", "prompt", prompt)

	resp, err := s.client.call(ctx, aiChatRequest{
		SystemPrompt: draftSystemPrompt,
		UserPrompt:   prompt,
		MaxTokens:    defaultDraftMaxTokens,
		Temperature:  defaultDraftTemperature,
	})
	if err != nil {
		return nil, nil, err
	}
	content := images.Restore(stripCodeFence(resp.Content))
	logAIExchange(s.logger, "DRAFT", "response", content)
	if strings.TrimSpace(content) == "" {
		return nil, nil, fmt.Errorf("%w: model returned an empty draft", ErrInvalidInput)
	}

	s.logger.Info("draft generated", "post_id", postID, "prompt_tokens", resp.PromptTokens, "completion_tokens", resp.CompletionTokens)
	return s.posts.EditContent(ctx, postID, EditInput{
		VersionFields: VersionFields{
			Content:       &content,
			ChangeSummary: "generated draft",
		},
		ChangeType: db.ChangeTypeDraft,
		Actor:      actor,
	})
}

// ParseOutline decodes and validates a model reply as an outline.
func (s *GenerationService) ParseOutline(raw string) ([]db.OutlineSection, error) {
	body := stripCodeFence(raw)

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutline, err)
	}
	result := s.schema.Validate(doc)
	if !result.IsValid() {
		var messages []string
		for field, evalErr := range result.Errors {
			messages = append(messages, fmt.Sprintf("%s: %s", field, evalErr.Error()))
		}
		sort.Strings(messages)
		return nil, fmt.Errorf("%w: %s", ErrInvalidOutline, strings.Join(messages, "; "))
	}

	var outline []db.OutlineSection
	if err := json.Unmarshal([]byte(body), &outline); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutline, err)
	}
	for i := range outline {
		outline[i].Heading = strings.TrimSpace(outline[i].Heading)
	}
	return outline, nil
}

func (s *GenerationService) current(ctx context.Context, postID uint) (*db.Post, *db.Version, error) {
	if s.posts == nil {
		return nil, nil, fmt.Errorf("generation service is not wired")
	}
	gdb := s.posts.db.WithContext(ctx)
	post, err := loadPostTx(gdb, postID)
	if err != nil {
		return nil, nil, err
	}
	if post.Status == db.PostStatusArchived {
		return nil, nil, ErrPostArchived
	}
	version, err := currentVersionTx(gdb, postID)
	if err != nil {
		return nil, nil, err
	}
	return post, version, nil
}

func buildOutlinePrompt(title, keyword, notes string) string {
	var builder strings.Builder
	builder.WriteString("Title: ")
	builder.WriteString(strings.TrimSpace(title))
	builder.WriteString("\n")
	if keyword = strings.TrimSpace(keyword); keyword != "" {
		builder.WriteString("Target keyword: ")
		builder.WriteString(keyword)
		builder.WriteString("\n")
	}
	if notes = strings.TrimSpace(notes); notes != "" {
		builder.WriteString("\nExisting notes:\n")
		builder.WriteString(logging.Truncate(notes, 2000))
	}
	return builder.String()
}

func buildDraftPrompt(title, keyword string, outline []db.OutlineSection, notes string, hasImages bool) string {
	var builder strings.Builder
	builder.WriteString("Title: ")
	builder.WriteString(strings.TrimSpace(title))
	builder.WriteString("\n")
	if keyword = strings.TrimSpace(keyword); keyword != "" {
		builder.WriteString("Target keyword: ")
		builder.WriteString(keyword)
		builder.WriteString("\n")
	}
	builder.WriteString("\nOutline:\n")
	for _, section := range outline {
		if section.Level < 1 {
			continue
		}
		builder.WriteString(strings.Repeat("#", section.Level))
		builder.WriteString(" ")
		builder.WriteString(section.Heading)
		builder.WriteString("\n")
		for _, point := range section.Points {
			builder.WriteString("- ")
			builder.WriteString(point)
			builder.WriteString("\n")
		}
	}
	if notes = strings.TrimSpace(notes); notes != "" {
		builder.WriteString("\nExisting notes:\n")
		if hasImages {
			builder.WriteString("(keep every image://asset-* link unchanged)\n")
		}
		builder.WriteString(logging.Truncate(notes, 4000))
	}
	return builder.String()
}

// stripCodeFence removes a surrounding ``` block, which models add despite
// being asked not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
