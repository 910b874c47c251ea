// Package render drives a shared headless browser process to produce
// server-rendered HTML snapshots of single-page application routes.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"renderx/internal/optimize"
)

var (
	// ErrAtCapacity is returned when the admission counter is already at
	// maxConcurrency when a render is attempted.
	ErrAtCapacity = errors.New("render: at capacity")
	// ErrLaunchFailed wraps a browser launch failure.
	ErrLaunchFailed = errors.New("render: browser launch failed")
	// ErrNavigationFailed wraps a navigation timeout or failure, the only
	// fatal step of the readiness protocol.
	ErrNavigationFailed = errors.New("render: navigation failed")
	// ErrExtractFailed wraps an HTML extraction failure.
	ErrExtractFailed = errors.New("render: html extraction failed")
)

// Job is a transient render request.
type Job struct {
	URL              string // loopback target, e.g. http://localhost:8080/path
	UserAgent        string
	Origin           string // forwarded Origin header, if any
	TimeoutMs        int
	RootSelector     string
	Strategy         string // "ssr" returns the extracted HTML unchanged, skipping the optimizer
	OptimizerOptions optimize.Options
}

// Renderer renders a Job into HTML. Implemented by *Engine; a fake
// implementation lives in fake.go for use by gateway tests.
type Renderer interface {
	Render(ctx context.Context, job Job) (string, error)
}

type browserHandle struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserCancel context.CancelFunc
}

// Engine owns exactly one headless browser process, lazily launched, shared
// across all renders. Each render gets its own isolated browser context.
type Engine struct {
	maxConcurrency int

	admitMu sync.Mutex
	active  int

	handleMu   sync.Mutex
	handle     *browserHandle
	launchOnce *sync.Once
	launchErr  error
}

// NewEngine returns an Engine admitting at most maxConcurrency concurrent
// renders. The browser process is not launched until the first render.
func NewEngine(maxConcurrency int) *Engine {
	return &Engine{maxConcurrency: maxConcurrency}
}

func (e *Engine) admit() bool {
	e.admitMu.Lock()
	defer e.admitMu.Unlock()
	if e.active >= e.maxConcurrency {
		return false
	}
	e.active++
	return true
}

func (e *Engine) release() {
	e.admitMu.Lock()
	e.active--
	e.admitMu.Unlock()
}

// Active reports the current admission count, for metrics.
func (e *Engine) Active() int {
	e.admitMu.Lock()
	defer e.admitMu.Unlock()
	return e.active
}

// ensureBrowser lazily launches the shared browser process. Concurrent
// callers await the same pending launch; on failure the latch resets so the
// next caller retries.
func (e *Engine) ensureBrowser() (*browserHandle, error) {
	e.handleMu.Lock()
	if e.handle != nil {
		h := e.handle
		e.handleMu.Unlock()
		return h, nil
	}
	if e.launchOnce == nil {
		e.launchOnce = &sync.Once{}
	}
	once := e.launchOnce
	e.handleMu.Unlock()

	once.Do(func() {
		h, err := launchBrowser()
		e.handleMu.Lock()
		if err != nil {
			e.launchErr = err
			e.launchOnce = nil
		} else {
			e.handle = h
			e.launchErr = nil
			go e.watchDisconnect(h)
		}
		e.handleMu.Unlock()
	})

	e.handleMu.Lock()
	defer e.handleMu.Unlock()
	if e.handle != nil {
		return e.handle, nil
	}
	return nil, e.launchErr
}

// watchDisconnect clears the browser handle and latch once the underlying
// browser context ends, so the next render re-launches.
func (e *Engine) watchDisconnect(h *browserHandle) {
	<-h.browserCtx.Done()
	e.handleMu.Lock()
	if e.handle == h {
		e.handle = nil
		e.launchOnce = nil
	}
	e.handleMu.Unlock()
}

func launchBrowser() (*browserHandle, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, err
	}
	return &browserHandle{
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Close shuts down the shared browser process, if running.
func (e *Engine) Close() {
	e.handleMu.Lock()
	h := e.handle
	e.handle = nil
	e.launchOnce = nil
	e.handleMu.Unlock()
	if h != nil {
		h.browserCancel()
		h.allocCancel()
	}
}

// Render drives the browser through the readiness protocol for job and
// returns the (optionally optimized) HTML. The admission counter is
// released exactly once, regardless of outcome.
func (e *Engine) Render(ctx context.Context, job Job) (string, error) {
	if !e.admit() {
		return "", ErrAtCapacity
	}
	defer e.release()

	handle, err := e.ensureBrowser()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	timeoutMs := job.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 30000
	}
	// Per-request isolation: a fresh browser context (cookies/storage
	// isolated) and a fresh page within the shared browser process.
	tabCtx, tabCancel := chromedp.NewContext(handle.browserCtx, chromedp.WithNewBrowserContext())
	defer cleanupTab(tabCtx, tabCancel)

	// renderCtx derives from tabCtx so chromedp.Run can find the page, and
	// is also cancelled when the caller's ctx ends.
	renderCtx, cancel := context.WithTimeout(tabCtx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()
	stopOnCallerDone := context.AfterFunc(ctx, cancel)
	defer stopOnCallerDone()

	prep := []chromedp.Action{
		chromedp.EmulateViewport(1920, 1080),
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorDeny),
	}
	if job.UserAgent != "" {
		prep = append(prep, emulation.SetUserAgentOverride(job.UserAgent))
	}
	if err := chromedp.Run(tabCtx, prep...); err != nil {
		return "", fmt.Errorf("render: preparing page: %w", err)
	}
	installResourceFilter(tabCtx, job)

	start := time.Now()
	budget := func() int { return remainingBudgetMs(timeoutMs, time.Since(start)) }

	if err := navigate(renderCtx, tabCtx, job.URL, timeoutMs); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNavigationFailed, err)
	}

	waitNetworkIdle(renderCtx, tabCtx, minInt(15000, budget()))

	selectors := []string{job.RootSelector, "#app", "[data-reactroot]", "body > *"}
	matched := waitForFirstSelector(renderCtx, tabCtx, selectors, maxInt(15000, budget()))
	if !matched {
		pollForText(renderCtx, tabCtx, firstNonEmpty(job.RootSelector, "body"), maxInt(10000, budget()))
	}

	waitNetworkIdle(renderCtx, tabCtx, minInt(10000, budget()))

	html, err := extractHTML(renderCtx, tabCtx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractFailed, err)
	}

	if job.Strategy == "ssr" {
		return html, nil
	}
	return optimize.Optimize(html, job.OptimizerOptions), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// cleanupTab closes the page/context, bounded by a 5s timeout. If it does
// not complete in time, a warning is logged. Render's deferred release of the
// admission slot runs after this returns, so the slot is held for at most
// those 5s of cleanup.
func cleanupTab(tabCtx context.Context, tabCancel context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		_ = chromedp.Cancel(tabCtx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		slog.Warn("render: page cleanup did not complete within 5s")
	}
	tabCancel()
}

func navigate(renderCtx, tabCtx context.Context, url string, timeoutMs int) error {
	navCtx, cancel := context.WithTimeout(renderCtx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()
	return chromedp.Run(navCtx, chromedp.Navigate(url))
}

// waitNetworkIdle waits for a CDP "networkIdle" lifecycle event, tolerating
// a timeout (the caller treats it as "continue with whatever we have").
func waitNetworkIdle(parent, tabCtx context.Context, budgetMs int) {
	timeoutCtx, cancel := context.WithTimeout(parent, time.Duration(budgetMs)*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	var once sync.Once
	listenCtx, cancelListen := context.WithCancel(tabCtx)
	defer cancelListen()

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
			once.Do(func() { close(done) })
		}
	})
	if err := chromedp.Run(tabCtx, page.SetLifecycleEventsEnabled(true)); err != nil {
		return
	}

	select {
	case <-done:
	case <-timeoutCtx.Done():
		readinessLogThrottle.Do(func() {
			slog.Debug("render: network-idle wait timed out, continuing")
		})
	}
}

// waitForFirstSelector tries each selector in order, each with its own
// sub-budget, and returns true on the first that is present in the DOM.
// Whether the matched element has any children or text is not checked.
func waitForFirstSelector(parent, tabCtx context.Context, selectors []string, budgetMs int) bool {
	for _, sel := range selectors {
		if sel == "" {
			continue
		}
		selCtx, cancel := context.WithTimeout(parent, time.Duration(budgetMs)*time.Millisecond)
		err := chromedp.Run(selCtx, chromedp.WaitReady(sel, chromedp.ByQuery))
		cancel()
		if err == nil {
			return true
		}
	}
	return false
}

// pollForText polls selector's textContent every 100ms until non-empty or
// the budget elapses; a timeout is tolerated.
func pollForText(parent, tabCtx context.Context, selector string, budgetMs int) {
	deadline := time.Now().Add(time.Duration(budgetMs) * time.Millisecond)
	for time.Now().Before(deadline) {
		var text string
		pollCtx, cancel := context.WithTimeout(tabCtx, 2*time.Second)
		err := chromedp.Run(pollCtx, chromedp.Text(selector, &text, chromedp.ByQuery))
		cancel()
		if err == nil && strings.TrimSpace(text) != "" {
			return
		}
		select {
		case <-parent.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	readinessLogThrottle.Do(func() {
		slog.Debug("render: textContent poll timed out, continuing")
	})
}

func extractHTML(renderCtx, tabCtx context.Context) (string, error) {
	extractCtx, cancel := context.WithTimeout(renderCtx, 5*time.Second)
	defer cancel()
	var out string
	err := chromedp.Run(extractCtx, chromedp.OuterHTML("html", &out, chromedp.ByQuery))
	return out, err
}

// installResourceFilter permits only document/script/xhr/fetch resource
// types through and aborts the rest, injecting a loopback marker header on
// permitted requests so the gateway never re-renders its own fetches.
func installResourceFilter(tabCtx context.Context, job Job) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		e, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go continueOrAbort(tabCtx, e, job)
	})
	_ = chromedp.Run(tabCtx, fetch.Enable().WithPatterns([]*fetch.RequestPattern{{URLPattern: "*"}}))
}

func continueOrAbort(tabCtx context.Context, e *fetch.EventRequestPaused, job Job) {
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		switch e.ResourceType {
		case network.ResourceTypeDocument, network.ResourceTypeScript, network.ResourceTypeXHR, network.ResourceTypeFetch:
			headers := []*fetch.HeaderEntry{{Name: "X-RenderX-Internal", Value: "true"}}
			if job.Origin != "" {
				headers = append(headers, &fetch.HeaderEntry{Name: "Origin", Value: job.Origin})
			}
			return fetch.ContinueRequest(e.RequestID).WithHeaders(headers).Do(ctx)
		default:
			return fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(ctx)
		}
	}))
	if err != nil {
		slog.Debug("render: resource filter action failed", "err", err)
	}
}
