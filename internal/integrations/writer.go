package integrations

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/hubenschmidt/livesession/internal/project"
	"github.com/hubenschmidt/livesession/internal/tools"
)

const writerInstructions = `You are a sophisticated writing assistant. Write the requested document in Markdown.
Be complete and well structured. Return only the document, without preamble.`

// Composer turns a brief into a finished document.
type Composer interface {
	Compose(ctx context.Context, brief string) (string, error)
}

// AgentComposer runs a single-turn agent through an OpenAI-compatible
// provider.
type AgentComposer struct {
	provider  agents.ModelProvider
	model     string
	maxTokens int
}

func NewAgentComposer(apiKey, baseURL, model string, maxTokens int) *AgentComposer {
	params := agents.OpenAIProviderParams{
		APIKey:       param.NewOpt(apiKey),
		UseResponses: param.NewOpt(false),
	}
	if baseURL != "" {
		params.BaseURL = param.NewOpt(baseURL)
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AgentComposer{provider: agents.NewOpenAIProvider(params), model: model, maxTokens: maxTokens}
}

func (a *AgentComposer) Compose(ctx context.Context, brief string) (string, error) {
	agent := agents.New("writer").
		WithInstructions(writerInstructions).
		WithModel(a.model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(a.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   a.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	events, errCh, err := runner.RunStreamedChan(ctx, agent, brief)
	if err != nil {
		return "", fmt.Errorf("writer stream start: %w", err)
	}
	var text strings.Builder
	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok || raw.Data.Type != "response.output_text.delta" {
			continue
		}
		text.WriteString(raw.Data.Delta)
	}
	if streamErr := <-errCh; streamErr != nil {
		return "", fmt.Errorf("writer stream: %w", streamErr)
	}
	return text.String(), nil
}

// Writer is the generate_writing background tool.
type Writer struct {
	composer  Composer
	workspace *Workspace
	projects  *project.Manager
	now       func() time.Time
}

func NewWriter(c Composer, ws *Workspace, pm *project.Manager) *Writer {
	return &Writer{composer: c, workspace: ws, projects: pm, now: time.Now}
}

func (w *Writer) Tools() []tools.Tool {
	return []tools.Tool{{
		Name:    "generate_writing",
		Shape:   tools.Background,
		Started: "Writing started. I will let you know when the document is saved.",
		Handler: w.handle,
		Notice:  tools.NoticeText("Writing task failed."),
	}}
}

func docName(filename, brief string, now time.Time) string {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == "/" {
		safe := project.Sanitize(brief)
		if len(safe) > 40 {
			safe = strings.TrimSpace(safe[:40])
		}
		if safe == "" {
			safe = fmt.Sprintf("document_%d", now.Unix())
		}
		name = strings.ReplaceAll(safe, " ", "_")
	}
	if filepath.Ext(name) == "" {
		name += ".md"
	}
	return name
}

func (w *Writer) handle(ctx context.Context, args tools.Args) (tools.Result, error) {
	if w.composer == nil {
		return tools.Result{}, errors.New("writer not configured: set OPENAI_API_KEY")
	}
	brief := args.String("prompt")
	if w.workspace != nil {
		if _, err := w.workspace.EnsureProject(); err != nil {
			return tools.Result{}, err
		}
	}
	doc, err := w.composer.Compose(ctx, brief)
	if err != nil {
		return tools.Result{}, err
	}
	if strings.TrimSpace(doc) == "" {
		return tools.Result{}, errors.New("writer returned an empty document")
	}
	name := docName(args.String("filename"), brief, w.now())
	path := filepath.Join(w.projects.Path(), name)
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		return tools.Result{}, fmt.Errorf("save document: %w", err)
	}
	return tools.Text(fmt.Sprintf("Writing task complete. Saved '%s' (%d words) to project '%s'.",
		name, len(strings.Fields(doc)), w.projects.Current())), nil
}
