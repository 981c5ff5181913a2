package integrations

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/hubenschmidt/livesession/internal/eventbus"
	"github.com/hubenschmidt/livesession/internal/project"
	"github.com/hubenschmidt/livesession/internal/tools"
)

const (
	webStarted   = "Web Navigation started. Do not reply to this message."
	webSearchURL = "https://html.duckduckgo.com/html/"
	webTextLimit = 4000
	webTimeout   = 2 * time.Minute
)

// WebPage is what one browsing run observed.
type WebPage struct {
	URL        string
	Title      string
	Text       string
	Screenshot []byte
}

// WebAgent drives a headless Chrome through one page visit per task.
type WebAgent struct {
	chromePath string
	headless   bool
	projects   *project.Manager
	bus        *eventbus.Bus
	now        func() time.Time
	browse     func(ctx context.Context, target string) (WebPage, error)
}

func NewWebAgent(chromePath string, pm *project.Manager, bus *eventbus.Bus) *WebAgent {
	w := &WebAgent{chromePath: chromePath, headless: true, projects: pm, bus: bus, now: time.Now}
	w.browse = w.visit
	return w
}

func (w *WebAgent) Tools() []tools.Tool {
	return []tools.Tool{{
		Name:    "run_web_agent",
		Shape:   tools.Background,
		Started: webStarted,
		Handler: w.handle,
		Notice: func(res tools.Result, err error) string {
			if err != nil {
				return "Web Agent has finished.\nResult: failed: " + err.Error()
			}
			return fmt.Sprintf("Web Agent has finished.\nResult: %v", res.Value)
		},
	}}
}

// Target picks the page to open: the given url, or a search for the prompt.
func Target(prompt, rawURL string) string {
	if u := strings.TrimSpace(rawURL); u != "" {
		if !strings.Contains(u, "://") {
			u = "https://" + u
		}
		return u
	}
	return webSearchURL + "?" + url.Values{"q": {prompt}}.Encode()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut + " ..."
}

func (w *WebAgent) visit(ctx context.Context, target string) (WebPage, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", w.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(1280, 800),
	)
	if w.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(w.chromePath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	bctx, cancelTimeout := context.WithTimeout(bctx, webTimeout)
	defer cancelTimeout()

	var page WebPage
	err := chromedp.Run(bctx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&page.URL),
		chromedp.Title(&page.Title),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &page.Text),
		chromedp.CaptureScreenshot(&page.Screenshot),
	)
	if err != nil {
		return WebPage{}, fmt.Errorf("browse %s: %w", target, err)
	}
	return page, nil
}

func (w *WebAgent) handle(ctx context.Context, args tools.Args) (tools.Result, error) {
	prompt := args.String("prompt")
	target := Target(prompt, args.String("url"))
	slog.Info("web agent started", "target", target)

	page, err := w.browse(ctx, target)
	if err != nil {
		return tools.Result{}, err
	}

	if len(page.Screenshot) > 0 {
		if w.projects != nil {
			name := fmt.Sprintf("%d_page.png", w.now().Unix())
			if _, err := w.projects.SaveArtifact("browser", name, page.Screenshot); err != nil {
				slog.Warn("web screenshot not saved", "error", err)
			}
		}
		w.bus.Publish(eventbus.Event{
			Type: eventbus.TypeDisplay,
			Display: &eventbus.Display{
				ContentType: "image",
				Data: map[string]string{
					"image": base64.StdEncoding.EncodeToString(page.Screenshot),
					"log":   "Visited " + page.URL,
				},
			},
		})
	}

	return tools.Text(fmt.Sprintf("Task: %s\nVisited '%s' (%s).\nPage text: %s",
		prompt, page.Title, page.URL, truncate(page.Text, webTextLimit))), nil
}
