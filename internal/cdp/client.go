// Package cdp attaches the recorder to the detection page over the Chrome
// DevTools Protocol: network event fan-out into the capture adapters, the
// in-page trigger script, and live page reads for the watcher and the
// coordinator.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/674019130/zhuqueAI-plugin/internal/capture"
	"github.com/674019130/zhuqueAI-plugin/internal/config"
	"github.com/674019130/zhuqueAI-plugin/internal/extract"
	"github.com/674019130/zhuqueAI-plugin/internal/record"
	"github.com/674019130/zhuqueAI-plugin/internal/watch"
)

const evalTimeout = 5 * time.Second

// Client manages the CDP connection to the detection tab.
type Client struct {
	cfg       *config.Config
	network   *capture.NetworkCapture
	sockets   *capture.SocketCapture
	trigger   *watch.TriggerDetector
	extractor *extract.Extractor

	allocCtx    context.Context
	allocCancel context.CancelFunc

	tabMu  sync.RWMutex
	tabID  target.ID
	tabURL string
	tabCtx context.Context
	cancel context.CancelFunc
}

func NewClient(cfg *config.Config, nc *capture.NetworkCapture, sc *capture.SocketCapture, trigger *watch.TriggerDetector, extractor *extract.Extractor) *Client {
	return &Client{
		cfg:       cfg,
		network:   nc,
		sockets:   sc,
		trigger:   trigger,
		extractor: extractor,
	}
}

// Connect attaches to the first browser tab matching the URL filter.
func (c *Client) Connect(ctx context.Context) error {
	cdpURL := c.cfg.GetCDPURL()
	slog.Info("Connecting to Chromium", "url", cdpURL)

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cdpURL)

	tempCtx, tempCancel := chromedp.NewContext(c.allocCtx)
	defer tempCancel()

	if err := chromedp.Run(tempCtx); err != nil {
		return record.NewError(record.CodeCDPUnavailable, "failed to connect to browser", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		return record.NewError(record.CodeCDPUnavailable, "failed to enumerate targets", err)
	}

	for _, t := range targets {
		if t.Type != "page" || !c.matchesTabURL(t.URL) {
			continue
		}
		if err := c.attachToTab(t.TargetID, t.URL); err != nil {
			slog.Error("Failed to attach to tab", "target_id", t.TargetID, "url", t.URL, "error", err)
			continue
		}
		slog.Info("Attached to detection tab", "target_id", t.TargetID, "url", truncateURL(t.URL))
		return nil
	}

	return fmt.Errorf("no tab found matching RECORDER_TAB_URL_FILTER=%q", c.cfg.TabURLFilter)
}

func (c *Client) attachToTab(targetID target.ID, url string) error {
	tabCtx, cancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(targetID))

	script := watch.TriggerScript(c.extractor.Vocabulary().SubmitPhrases)
	err := chromedp.Run(tabCtx,
		network.Enable(),
		network.SetCacheDisabled(true),
		page.Enable(),
		runtime.Enable(),
		runtime.AddBinding(watch.BindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
		// The tab is usually already loaded when the recorder attaches, so
		// the script must also run in the current document.
		chromedp.Evaluate(script, nil),
	)
	if err != nil {
		cancel()
		return record.NewError(record.CodeCDPUnavailable, "failed to prepare tab", err)
	}

	c.tabMu.Lock()
	c.tabID = targetID
	c.tabURL = url
	c.tabCtx = tabCtx
	c.cancel = cancel
	c.tabMu.Unlock()

	chromedp.ListenTarget(tabCtx, c.handleEvent)
	return nil
}

func (c *Client) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *runtime.EventBindingCalled:
		if e.Name == watch.BindingName && c.trigger != nil {
			c.trigger.OnBindingCalled(e.Payload)
		}
	case *page.EventFrameNavigated:
		if e.Frame.ParentID == "" {
			c.tabMu.Lock()
			c.tabURL = e.Frame.URL
			c.tabMu.Unlock()
			slog.Info("Tab navigated", "url", truncateURL(e.Frame.URL))
		}
	case *network.EventRequestWillBeSent:
		c.network.OnRequestWillBeSent(e)
	case *network.EventResponseReceived:
		c.network.OnResponseReceived(e)
	case *network.EventLoadingFinished:
		c.network.OnLoadingFinished(e, c.bodyFetcher(e.RequestID))
	case *network.EventLoadingFailed:
		c.network.OnLoadingFailed(e)
	case *network.EventWebSocketCreated:
		c.sockets.OnWebSocketCreated(e)
	case *network.EventWebSocketFrameReceived:
		c.sockets.OnWebSocketFrameReceived(e)
	case *network.EventWebSocketClosed:
		c.sockets.OnWebSocketClosed(e)
	}
}

func (c *Client) bodyFetcher(requestID network.RequestID) func() ([]byte, error) {
	c.tabMu.RLock()
	tabCtx := c.tabCtx
	c.tabMu.RUnlock()
	if tabCtx == nil {
		return nil
	}

	return func() ([]byte, error) {
		bodyCtx, bodyCancel := context.WithTimeout(tabCtx, 10*time.Second)
		defer bodyCancel()

		var body []byte
		err := chromedp.Run(bodyCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(requestID).Do(ctx)
			return err
		}))
		return body, err
	}
}

// PageText returns the rendered plain text of the detection page. Implements
// the watcher's sampler.
func (c *Client) PageText(ctx context.Context) (string, error) {
	var text string
	err := c.eval(ctx, `document.body ? document.body.innerText : ""`, &text)
	return text, err
}

// FocusedInputText reads the submitted text from the page: the focused
// textarea if any, otherwise the fullest one.
func (c *Client) FocusedInputText(ctx context.Context) (string, error) {
	const script = `(() => {
  const el = document.activeElement;
  if (el && (el.tagName === 'TEXTAREA' || el.isContentEditable)) {
    return el.value || el.innerText || '';
  }
  const areas = Array.from(document.querySelectorAll('textarea'));
  if (areas.length === 0) return '';
  areas.sort((a, b) => (b.value || '').length - (a.value || '').length);
  return areas[0].value || '';
})()`
	var text string
	err := c.eval(ctx, script, &text)
	return text, err
}

// PageVerdict reads the rendered verdict phrase. Implements the
// coordinator's page reader for verdict backfill.
func (c *Client) PageVerdict(ctx context.Context) (string, error) {
	text, err := c.PageText(ctx)
	if err != nil {
		return "", err
	}
	return c.extractor.VerdictFromText(text), nil
}

func (c *Client) eval(ctx context.Context, script string, out *string) error {
	c.tabMu.RLock()
	tabCtx := c.tabCtx
	c.tabMu.RUnlock()
	if tabCtx == nil {
		return record.NewError(record.CodeCDPUnavailable, "no tab attached", nil)
	}

	evalCtx, cancel := context.WithTimeout(tabCtx, evalTimeout)
	defer cancel()

	err := chromedp.Run(evalCtx, chromedp.Evaluate(script, out))
	if err == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return record.NewError(record.CodeEvalTimeout, "page evaluation cancelled", ctx.Err())
	default:
	}
	if evalCtx.Err() != nil {
		return record.NewError(record.CodeEvalTimeout, "page evaluation timed out", err)
	}
	return record.NewError(record.CodeCDPUnavailable, "page evaluation failed", err)
}

// TabURL reports the attached tab's current URL.
func (c *Client) TabURL() string {
	c.tabMu.RLock()
	defer c.tabMu.RUnlock()
	return c.tabURL
}

func (c *Client) Close() error {
	c.tabMu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.tabCtx = nil
	c.tabMu.Unlock()

	if c.allocCancel != nil {
		c.allocCancel()
	}

	slog.Info("CDP client closed")
	return nil
}

func (c *Client) matchesTabURL(url string) bool {
	if c.cfg.TabURLFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(c.cfg.TabURLFilter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
