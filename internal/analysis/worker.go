package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vendalink/vendalink/internal/llm"
)

const systemPrompt = `You are a sales CRM analyst. Read the WhatsApp conversation transcript and respond with a single JSON object and nothing else. The object must have exactly these keys:
"summary": string, a concise summary of the conversation so far;
"tags": array of tag slugs to apply to the contact, chosen only from the allowed tags;
"insights": object mapping insight slugs (only from the allowed insights) to {"payload": any, "confidence": number 0-1, "expiresAt": optional RFC3339 timestamp};
"stage": {"slug": string or null, "confidence": number 0-1}, the sales stage that best matches, chosen only from the allowed stages.
Use null for the stage slug and empty collections when nothing applies. Do not invent slugs.`

type contextStore interface {
	LoadContext(ctx context.Context, conversationID string) (Context, error)
	ClearNeedsAnalysis(ctx context.Context, conversationID string) error
	ApplyResult(ctx context.Context, c Context, res Result, now time.Time) error
}

type completionClient interface {
	Configured() bool
	Chat(ctx context.Context, req llm.Request) (llm.Result, error)
}

// AnalysisWorker runs one analysis pass per invocation: load context, build
// the transcript, call the completion endpoint once, validate, apply.
type AnalysisWorker struct {
	store       contextStore
	client      completionClient
	logger      *slog.Logger
	callTimeout time.Duration
	now         func() time.Time
}

// NewWorker creates the analysis worker. callTimeout bounds the completion
// call so a hanging endpoint cannot hold a concurrency slot forever.
func NewWorker(log *slog.Logger, store contextStore, client completionClient, callTimeout time.Duration) *AnalysisWorker {
	if log == nil {
		log = slog.Default()
	}
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	return &AnalysisWorker{
		store:       store,
		client:      client,
		logger:      log.With(slog.String("service", "analysis")),
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

// Analyze performs one pass for the conversation. Endpoint failures and
// unusable responses leave the conversation dirty so a later schedule can
// retry; they are reported as errors only so the scheduler can log them.
func (w *AnalysisWorker) Analyze(ctx context.Context, conversationID string) error {
	c, err := w.store.LoadContext(ctx, conversationID)
	if err != nil {
		return err
	}

	if c.Unprocessed == 0 && !c.Conversation.NeedsAnalysis {
		return nil
	}

	transcript := BuildTranscript(c.Messages)
	if transcript == "" {
		return w.store.ClearNeedsAnalysis(ctx, conversationID)
	}

	if w.client == nil || !w.client.Configured() {
		w.logger.Warn("completion endpoint not configured, leaving conversation dirty",
			slog.String("conversation_id", conversationID))
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()
	resp, err := w.client.Chat(callCtx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(c, transcript)},
		},
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return fmt.Errorf("completion call: %w", err)
	}

	out, ok := parseOutput(llm.StripCodeFences(resp.Content))
	if !ok {
		return fmt.Errorf("unusable completion response for conversation %s", conversationID)
	}

	res := validateOutput(out, c.Catalogs)
	if err := w.store.ApplyResult(ctx, c, res, w.now()); err != nil {
		return fmt.Errorf("apply analysis result: %w", err)
	}

	w.logger.Info("conversation analyzed",
		slog.String("conversation_id", conversationID),
		slog.Int("tags", len(res.Tags)),
		slog.Int("insights", len(res.Insights)),
		slog.Bool("stage_suggested", res.Stage != nil),
	)
	return nil
}

func buildUserPrompt(c Context, transcript string) string {
	var b strings.Builder

	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	b.WriteString("\n")

	if c.Conversation.Summary != "" {
		b.WriteString("\nPrevious summary:\n")
		b.WriteString(c.Conversation.Summary)
		b.WriteString("\n")
	}

	b.WriteString("\nCurrent stage: ")
	if c.State.StageSlug != "" {
		b.WriteString(c.State.StageSlug)
	} else {
		b.WriteString("(none)")
	}
	b.WriteString("\nCurrent tags: ")
	if len(c.State.TagSlugs) > 0 {
		b.WriteString(strings.Join(c.State.TagSlugs, ", "))
	} else {
		b.WriteString("(none)")
	}
	b.WriteString("\n")

	b.WriteString("\nAllowed tags:\n")
	if len(c.Catalogs.Tags) == 0 {
		b.WriteString("(none)\n")
	}
	for _, tg := range c.Catalogs.Tags {
		writeCatalogLine(&b, tg.Slug, tg.Description, tg.ApplyWhen)
	}

	b.WriteString("\nAllowed insights:\n")
	if len(c.Catalogs.Insights) == 0 {
		b.WriteString("(none)\n")
	}
	for _, def := range c.Catalogs.Insights {
		writeCatalogLine(&b, def.Slug, def.Description, def.ApplyWhen)
	}

	b.WriteString("\nAllowed stages:\n")
	if len(c.Catalogs.Stages) == 0 {
		b.WriteString("(none)\n")
	}
	for _, st := range c.Catalogs.Stages {
		writeCatalogLine(&b, st.Slug, st.Description, st.ApplyWhen)
	}

	return b.String()
}

func writeCatalogLine(b *strings.Builder, slug, description, applyWhen string) {
	b.WriteString("- ")
	b.WriteString(slug)
	if description != "" {
		b.WriteString(": ")
		b.WriteString(description)
	}
	if applyWhen != "" {
		b.WriteString(" (apply when: ")
		b.WriteString(applyWhen)
		b.WriteString(")")
	}
	b.WriteString("\n")
}
