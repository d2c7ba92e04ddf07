package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sentinel/internal/model"
	"github.com/sells-group/sentinel/pkg/anthropic"
)

// Analysis is the reasoning service's verdict for one input, matched back to
// the input by Index.
type Analysis struct {
	Index     int    `json:"index"`
	Summary   string `json:"summary"`
	Signal    int    `json:"signal"`
	Financial bool   `json:"financial"`
	Alertable bool   `json:"alertable"`
}

// Reasoner scores and summarizes a batch of inputs. The context events, when
// provided, let the service align summaries with already-known developments.
type Reasoner interface {
	Analyze(ctx context.Context, inputs []Input, contextEvents []model.EventContext) ([]Analysis, error)
}

const analyzeSystemPrompt = `You are an OSINT analyst triaging raw social media posts and article excerpts.
For each numbered input produce a JSON object with:
  "index": the input number,
  "summary": one factual sentence stating what happened, where and when if known,
  "signal": integer 0-10 severity (0 = noise, 10 = major verified incident),
  "financial": true if the development plausibly moves markets,
  "alertable": true if an analyst should be paged about it.
If known events are listed and an input clearly describes one of them, reuse that event's framing in the summary.
Respond with ONLY a JSON array of these objects, one per input, no prose.`

// AnthropicReasoner implements Reasoner on the Claude messages API.
type AnthropicReasoner struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicReasoner(client anthropic.Client, modelID string, maxTokens int64) *AnthropicReasoner {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicReasoner{client: client, model: modelID, maxTokens: maxTokens}
}

func (r *AnthropicReasoner) Analyze(ctx context.Context, inputs []Input, contextEvents []model.EventContext) ([]Analysis, error) {
	temp := 0.2
	resp, err := r.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       r.model,
		MaxTokens:   r.maxTokens,
		System:      analyzeSystemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: buildAnalyzePrompt(inputs, contextEvents)}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: analyze request")
	}
	resp.Usage.LogCost(r.model, "extract")

	analyses, err := parseAnalyses(resp.Text, len(inputs))
	if err != nil {
		return nil, err
	}
	return analyses, nil
}

func buildAnalyzePrompt(inputs []Input, contextEvents []model.EventContext) string {
	var b strings.Builder
	if len(contextEvents) > 0 {
		b.WriteString("Known active events:\n")
		for _, ev := range contextEvents {
			fmt.Fprintf(&b, "- [%s] %s\n", ev.ID, ev.Summary)
		}
		b.WriteString("\n")
	}
	b.WriteString("Inputs:\n")
	for i, in := range inputs {
		fmt.Fprintf(&b, "--- input %d", i)
		if in.AuthorID != "" {
			fmt.Fprintf(&b, " (author %s)", in.AuthorID)
		}
		b.WriteString(" ---\n")
		b.WriteString(in.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// parseAnalyses decodes the model's JSON array, tolerating markdown code
// fences, and validates indices and signal bounds.
func parseAnalyses(text string, n int) ([]Analysis, error) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "["); i >= 0 {
		if j := strings.LastIndex(text, "]"); j > i {
			text = text[i : j+1]
		}
	}

	var analyses []Analysis
	if err := json.Unmarshal([]byte(text), &analyses); err != nil {
		return nil, eris.Wrap(err, "extract: parse analyses")
	}
	for i := range analyses {
		a := &analyses[i]
		if a.Index < 0 || a.Index >= n {
			return nil, eris.Errorf("extract: analysis index %d out of range [0,%d)", a.Index, n)
		}
		if a.Signal < 0 {
			a.Signal = 0
		}
		if a.Signal > model.SignalMax {
			a.Signal = model.SignalMax
		}
	}
	return analyses, nil
}
