package integrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hubenschmidt/livesession/internal/eventbus"
	"github.com/hubenschmidt/livesession/internal/project"
	"github.com/hubenschmidt/livesession/internal/tools"
)

// Workspace serves the project-scoped file, project and clock tools.
type Workspace struct {
	projects *project.Manager
	bus      *eventbus.Bus
	now      func() time.Time
}

func NewWorkspace(pm *project.Manager, bus *eventbus.Bus) *Workspace {
	return &Workspace{projects: pm, bus: bus, now: time.Now}
}

func (w *Workspace) Tools() []tools.Tool {
	return []tools.Tool{
		{Name: "write_file", Shape: tools.Sync, Handler: w.writeFile},
		{Name: "read_file", Shape: tools.Sync, Handler: w.readFile},
		{Name: "read_directory", Shape: tools.Sync, Handler: w.readDirectory},
		{Name: "create_project", Shape: tools.Local, Handler: w.createProject},
		{Name: "switch_project", Shape: tools.Local, Handler: w.switchProject},
		{Name: "list_projects", Shape: tools.Sync, Handler: w.listProjects},
		{Name: "get_datetime", Shape: tools.Sync, Handler: w.getDatetime},
		{Name: "set_time_format", Shape: tools.Local, Handler: w.setTimeFormat},
	}
}

func (w *Workspace) publishProject(name string) {
	w.bus.Publish(eventbus.Event{Type: eventbus.TypeProject, Project: name})
}

// EnsureProject moves work out of the scratch project before the first
// artifact is written. It returns a note for the model, or "".
func (w *Workspace) EnsureProject() (string, error) {
	if w.projects.Current() != project.Temp {
		return "", nil
	}
	name := "Project_" + w.now().Format("20060102_150405")
	if _, err := w.projects.Create(name); err != nil && !errors.Is(err, project.ErrExists) {
		return "", fmt.Errorf("auto project: %w", err)
	}
	if _, err := w.projects.Switch(name); err != nil {
		return "", fmt.Errorf("auto project: %w", err)
	}
	slog.Info("auto-created project", "project", name)
	w.publishProject(name)
	return fmt.Sprintf("Automatic Project Creation. Switched to new project '%s'. ", name), nil
}

func (w *Workspace) writeFile(_ context.Context, args tools.Args) (tools.Result, error) {
	note, err := w.EnsureProject()
	if err != nil {
		return tools.Result{}, err
	}
	path, err := w.projects.Resolve(args.String("path"))
	if err != nil {
		return tools.Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return tools.Result{}, fmt.Errorf("write %s: %w", args.String("path"), err)
	}
	if err := os.WriteFile(path, []byte(args.String("content")), 0o644); err != nil {
		return tools.Result{}, fmt.Errorf("write %s: %w", args.String("path"), err)
	}
	return tools.Text(fmt.Sprintf("%sFile '%s' written successfully to project '%s'.",
		note, w.rel(path), w.projects.Current())), nil
}

func (w *Workspace) readFile(_ context.Context, args tools.Args) (tools.Result, error) {
	path, err := w.projects.Resolve(args.String("path"))
	if err != nil {
		return tools.Result{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return tools.Text(fmt.Sprintf("File '%s' does not exist.", w.rel(path))), nil
	}
	if err != nil {
		return tools.Result{}, fmt.Errorf("read %s: %w", args.String("path"), err)
	}
	return tools.Text(fmt.Sprintf("Content of '%s':\n%s", w.rel(path), data)), nil
}

func (w *Workspace) readDirectory(_ context.Context, args tools.Args) (tools.Result, error) {
	path, err := w.projects.Resolve(args.String("path"))
	if err != nil {
		return tools.Result{}, err
	}
	entries, err := os.ReadDir(path)
	if errors.Is(err, os.ErrNotExist) {
		return tools.Text(fmt.Sprintf("Directory '%s' does not exist.", w.rel(path))), nil
	}
	if err != nil {
		return tools.Result{}, fmt.Errorf("list %s: %w", args.String("path"), err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() {
			n += "/"
		}
		names = append(names, n)
	}
	return tools.Text(fmt.Sprintf("Contents of '%s': %s", w.rel(path), strings.Join(names, ", "))), nil
}

func (w *Workspace) rel(path string) string {
	r, err := filepath.Rel(w.projects.Path(), path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(r)
}

func (w *Workspace) createProject(_ context.Context, args tools.Args) (tools.Result, error) {
	name, err := w.projects.Create(args.String("name"))
	switch {
	case errors.Is(err, project.ErrExists):
		return tools.Text(fmt.Sprintf("Project '%s' already exists.", name)), nil
	case err != nil:
		return tools.Result{}, err
	}
	if _, err := w.projects.Switch(name); err != nil {
		return tools.Result{}, err
	}
	w.publishProject(name)
	return tools.Result{
		Value:     fmt.Sprintf("Project '%s' created. Switched to project '%s'.", name, name),
		Reconnect: true,
	}, nil
}

func (w *Workspace) switchProject(_ context.Context, args tools.Args) (tools.Result, error) {
	name, err := w.projects.Switch(args.String("name"))
	switch {
	case errors.Is(err, project.ErrNotFound):
		return tools.Text(fmt.Sprintf("Project '%s' does not exist.", name)), nil
	case err != nil:
		return tools.Result{}, err
	}
	w.publishProject(name)
	return tools.Result{Value: fmt.Sprintf("Switched to project '%s'.", name), Reconnect: true}, nil
}

func (w *Workspace) listProjects(context.Context, tools.Args) (tools.Result, error) {
	names, err := w.projects.List()
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Value: names}, nil
}

// FormatTime renders t the way the assistant speaks dates.
func FormatTime(t time.Time, format string) string {
	clock := t.Format("03:04 PM")
	if format == "24h" {
		clock = t.Format("15:04")
	}
	return t.Format("Monday, January 02, 2006") + " at " + clock
}

func (w *Workspace) getDatetime(context.Context, tools.Args) (tools.Result, error) {
	cfg, err := w.projects.Config()
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Text(FormatTime(w.now(), cfg.TimeFormat)), nil
}

func (w *Workspace) setTimeFormat(_ context.Context, args tools.Args) (tools.Result, error) {
	format := args.String("time_format")
	if err := w.projects.SetTimeFormat(format); err != nil {
		return tools.Result{}, err
	}
	return tools.Text(fmt.Sprintf("Time format set to %s.", format)), nil
}
