package tools

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrDenied      = errors.New("denied by user")
)

// DeniedMessage is the result text for a call the user refused.
const DeniedMessage = "User denied the request to use this tool."

// Shape selects how the dispatcher runs a tool and when it responds.
type Shape int

const (
	// Sync tools respond with their own result.
	Sync Shape = iota
	// Background tools respond immediately and report completion through a
	// system notification.
	Background
	// Local tools mutate session state and may ask for a reconnect.
	Local
)

func (s Shape) String() string {
	switch s {
	case Background:
		return "background"
	case Local:
		return "local"
	}
	return "sync"
}

// Call is one function call requested by the model.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// Response answers exactly one Call.
type Response struct {
	ID      string
	Name    string
	Payload map[string]any
}

// Result is what a handler produced.
type Result struct {
	Value     any
	Reconnect bool
}

// Text wraps a plain string result.
func Text(s string) Result { return Result{Value: s} }

// NoticeText reports a Background result string as its notification, or
// fallback when the handler failed.
func NoticeText(fallback string) func(Result, error) string {
	return func(res Result, err error) string {
		if err != nil {
			return fallback
		}
		s, _ := res.Value.(string)
		return s
	}
}

type HandlerFunc func(ctx context.Context, args Args) (Result, error)

// Tool binds a catalog name to its handler.
type Tool struct {
	Name    string
	Shape   Shape
	Handler HandlerFunc

	// Started is the immediate response of a Background tool.
	Started string
	// Ack replaces Started when the response depends on the arguments.
	Ack func(Args) string
	// Silent Background tools send no response at all.
	Silent bool
	// Notice builds the completion notification of a Background tool.
	// An empty string skips the notification.
	Notice func(Result, error) string
}

// Args are decoded call arguments.
type Args map[string]any

func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Int reads a numeric argument. JSON numbers arrive as float64.
func (a Args) Int(key string) (int, bool) {
	switch v := a[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

func (a Args) Strings(key string) []string {
	raw, ok := a[key].([]any)
	if !ok {
		if ss, ok := a[key].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}
