package integrations

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hubenschmidt/livesession/internal/eventbus"
	"github.com/hubenschmidt/livesession/internal/project"
	"github.com/hubenschmidt/livesession/internal/tools"
)

const (
	cadDone   = "CAD generation is complete! The 3D model is now displayed for the user. Let them know it's ready."
	cadFailed = "CAD generation failed."
)

// CADModel is what the generation service returns.
type CADModel struct {
	Vertices any    `json:"vertices,omitempty"`
	Edges    any    `json:"edges,omitempty"`
	File     string `json:"file_path,omitempty"`
	stl      []byte
}

// CAD asks an external generation service for a model, stores the STL in
// the project's cad folder and shows the mesh in the UI.
type CAD struct {
	serviceURL string
	client     *http.Client
	workspace  *Workspace
	projects   *project.Manager
	bus        *eventbus.Bus
	notifier   tools.Notifier
	now        func() time.Time
}

type CADConfig struct {
	ServiceURL string
	Client     *http.Client
	Workspace  *Workspace
	Projects   *project.Manager
	Bus        *eventbus.Bus
	Notifier   tools.Notifier
}

func NewCAD(cfg CADConfig) *CAD {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &CAD{
		serviceURL: strings.TrimRight(cfg.ServiceURL, "/"),
		client:     cfg.Client,
		workspace:  cfg.Workspace,
		projects:   cfg.Projects,
		bus:        cfg.Bus,
		notifier:   cfg.Notifier,
		now:        time.Now,
	}
}

func (c *CAD) Tools() []tools.Tool {
	return []tools.Tool{{
		Name:    "generate_cad",
		Shape:   tools.Background,
		Silent:  true,
		Handler: c.handle,
		Notice: func(_ tools.Result, err error) string {
			if err != nil {
				return cadFailed
			}
			return cadDone
		},
	}}
}

// Generate calls the service for one prompt.
func (c *CAD) Generate(ctx context.Context, prompt string) (CADModel, error) {
	if c.serviceURL == "" {
		return CADModel{}, errors.New("cad service not configured: set CAD_SERVICE_URL")
	}
	body, _ := json.Marshal(map[string]string{"prompt": prompt})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return CADModel{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return CADModel{}, fmt.Errorf("cad request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return CADModel{}, fmt.Errorf("cad read: %w", err)
	}
	if resp.StatusCode >= 300 {
		return CADModel{}, fmt.Errorf("cad service: status %d", resp.StatusCode)
	}

	res := gjson.ParseBytes(data)
	m := CADModel{Vertices: res.Get("vertices").Value(), Edges: res.Get("edges").Value()}
	if enc := res.Get("stl").String(); enc != "" {
		stl, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return CADModel{}, fmt.Errorf("cad stl: %w", err)
		}
		m.stl = stl
	}
	if m.Vertices == nil && m.stl == nil {
		return CADModel{}, errors.New("cad service returned no model")
	}
	return m, nil
}

func artifactName(now time.Time, prompt string) string {
	safe := project.Sanitize(prompt)
	if len(safe) > 30 {
		safe = strings.TrimSpace(safe[:30])
	}
	return fmt.Sprintf("%d_%s.stl", now.Unix(), strings.ReplaceAll(safe, " ", "_"))
}

func (c *CAD) handle(ctx context.Context, args tools.Args) (tools.Result, error) {
	prompt := args.String("prompt")
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeStatus, Status: "cad_generating"})

	if c.workspace != nil {
		note, err := c.workspace.EnsureProject()
		if err != nil {
			return tools.Result{}, err
		}
		if note != "" && c.notifier != nil {
			if err := c.notifier.Notify(ctx, strings.TrimSpace(note), false); err != nil {
				slog.Warn("auto project notice failed", "error", err)
			}
		}
	}

	m, err := c.Generate(ctx, prompt)
	if err != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeStatus, Status: "cad_failed"})
		return tools.Result{}, err
	}
	if m.stl != nil && c.projects != nil {
		path, err := c.projects.SaveArtifact("cad", artifactName(c.now(), prompt), m.stl)
		if err != nil {
			slog.Warn("cad artifact not saved", "error", err)
		}
		m.File = path
	}
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeCAD, Data: m})
	return tools.Result{Value: m.File}, nil
}
