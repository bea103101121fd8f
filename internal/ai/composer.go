// Package ai drafts outbound follow-up texts with Gemini.
package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"autotext_backend/internal/leads/domain"
	"autotext_backend/platform/config"
	"autotext_backend/platform/logger"
)

// Composer produces one draft message body for a lead. Failures are
// recoverable; the caller leaves the lead untouched and tries again on
// a later run.
type Composer interface {
	Compose(ctx context.Context, req ComposeRequest) (string, error)
}

// ComposeRequest is the generation context: who the lead is, where they
// are in the cadence, and the tail of the conversation so far.
type ComposeRequest struct {
	Lead        domain.Lead
	TouchNumber int
	Recent      []domain.Message
}

type GeminiComposer struct {
	client *genai.Client
	model  string
	log    *logger.Logger
}

func NewGeminiComposer(ctx context.Context, cfg config.AIConfig, log *logger.Logger) (*GeminiComposer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GetGeminiAPIKey(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiComposer{client: client, model: cfg.GetGeminiModel(), log: log}, nil
}

const systemPrompt = `You are a friendly, low-pressure sales assistant at a car dealership,
texting a lead who inquired about a vehicle. Write ONE short SMS (under 320 characters).
Be casual and human. No emojis, no links, no pricing promises, never pushy.
If the conversation history shows earlier outreach got no reply, vary the angle instead of repeating yourself.
Reply with the message text only.`

func (c *GeminiComposer) Compose(ctx context.Context, req ComposeRequest) (string, error) {
	temp := float32(0.8)
	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		genai.Text(buildPrompt(req)),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			Temperature:       &temp,
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini returned empty draft")
	}

	c.log.Debug("draft composed", "lead_id", req.Lead.ID.String(), "chars", len(text))
	return text, nil
}

func buildPrompt(req ComposeRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Lead: %s\n", fallback(req.Lead.FullName(), "unknown name"))
	fmt.Fprintf(&b, "Interested in: %s\n", fallback(req.Lead.VehicleInterest, "a vehicle, unspecified"))
	if req.Lead.Source != "" {
		fmt.Fprintf(&b, "Lead source: %s\n", req.Lead.Source)
	}
	fmt.Fprintf(&b, "Follow-up stage: %s (touch #%d)\n", req.Lead.FollowUpStage, req.TouchNumber)

	if len(req.Recent) > 0 {
		b.WriteString("\nRecent conversation, newest last:\n")
		// Recent arrives newest first; print oldest first for readability.
		for i := len(req.Recent) - 1; i >= 0; i-- {
			m := req.Recent[i]
			who := "Us"
			if m.Direction == domain.DirectionIn {
				who = "Lead"
			}
			fmt.Fprintf(&b, "%s: %s\n", who, m.Body)
		}
	} else {
		b.WriteString("\nNo prior conversation; this is the first touch.\n")
	}

	b.WriteString("\nWrite the next follow-up text.")
	return b.String()
}

func fallback(s, alt string) string {
	if s == "" {
		return alt
	}
	return s
}
