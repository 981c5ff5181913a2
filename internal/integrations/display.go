package integrations

import (
	"context"
	"encoding/json"

	"github.com/hubenschmidt/livesession/internal/eventbus"
	"github.com/hubenschmidt/livesession/internal/tools"
)

// Display forwards display_content calls to the UI.
type Display struct {
	bus *eventbus.Bus
}

func NewDisplay(bus *eventbus.Bus) *Display { return &Display{bus: bus} }

func (d *Display) Tools() []tools.Tool {
	return []tools.Tool{{Name: "display_content", Shape: tools.Sync, Handler: d.handle}}
}

// displayData accepts a payload the model may have passed as a JSON
// string, and unwraps {"forecast": [...]}-style single-key wrappers for
// weather widgets.
func displayData(widget string, data any) any {
	if s, ok := data.(string); ok {
		var parsed any
		if json.Unmarshal([]byte(s), &parsed) == nil {
			data = parsed
		}
	}
	if widget != "weather" {
		return data
	}
	if m, ok := data.(map[string]any); ok && len(m) == 1 {
		for _, v := range m {
			if list, ok := v.([]any); ok {
				return list
			}
		}
	}
	return data
}

func (d *Display) handle(_ context.Context, args tools.Args) (tools.Result, error) {
	if d.bus == nil {
		return tools.Text("No display content handler registered."), nil
	}
	widget := args.String("widget_type")
	duration, _ := args.Int("duration")
	d.bus.Publish(eventbus.Event{
		Type: eventbus.TypeDisplay,
		Display: &eventbus.Display{
			ContentType: args.String("content_type"),
			URL:         args.String("url"),
			WidgetType:  widget,
			Data:        displayData(widget, args["data"]),
			DurationMs:  duration,
		},
	})
	return tools.Text("Content displayed."), nil
}
