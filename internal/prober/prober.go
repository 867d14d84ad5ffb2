// Package prober loads each dashboard in a headless browser to confirm it is reachable and rendering.
package prober

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

var (
	// ErrNoTargets is returned when a prober is built with an empty target list.
	ErrNoTargets = errors.New("no targets configured")
	// ErrNilLauncher is returned when a prober is built without a browser launcher.
	ErrNilLauncher = errors.New("browser launcher is required")
)

// DefaultTargets is the ordered list of dashboard deployments to probe.
var DefaultTargets = []string{
	"https://rvu-dash.streamlit.app",
	"https://prh-dash.streamlit.app",
}

// DefaultHeaders are applied to every page so the dashboards see an ordinary desktop browser.
var DefaultHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Accept-Language": "en-US,en;q=0.9",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
}

// Visit steps, used in VisitError.
const (
	StepNewPage    = "new_page"
	StepHeaders    = "set_headers"
	StepNavigate   = "navigate"
	StepScreenshot = "screenshot"
)

// Visit is the outcome of loading one target.
type Visit struct {
	URL             string
	StatusCode      int
	ScreenshotBytes int
	Duration        time.Duration
	Err             error
}

// Result holds the visits of one invocation in visit order.
type Result struct {
	Visits []Visit
}

// VisitError reports the target and step at which an invocation stopped.
type VisitError struct {
	URL  string
	Step string
	Err  error
}

func (e *VisitError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Step, e.URL, e.Err)
}

func (e *VisitError) Unwrap() error {
	return e.Err
}

// Prober visits a fixed, ordered list of URLs one at a time with a shared browser.
type Prober struct {
	launcher Launcher
	targets  []string
	headers  map[string]string
	debug    bool
}

// Option configures a Prober.
type Option func(*Prober)

// WithTargets replaces the default target list.
func WithTargets(targets []string) Option {
	return func(p *Prober) {
		if len(targets) > 0 {
			p.targets = append([]string(nil), targets...)
		}
	}
}

// WithHeaders replaces the default header set.
func WithHeaders(headers map[string]string) Option {
	return func(p *Prober) {
		if len(headers) > 0 {
			p.headers = copyHeaders(headers)
		}
	}
}

// WithDebug logs every visit.
func WithDebug(debug bool) Option {
	return func(p *Prober) {
		p.debug = debug
	}
}

// New builds a Prober that launches browsers through launcher.
func New(launcher Launcher, opts ...Option) (*Prober, error) {
	if launcher == nil {
		return nil, ErrNilLauncher
	}
	p := &Prober{
		launcher: launcher,
		targets:  append([]string(nil), DefaultTargets...),
		headers:  copyHeaders(DefaultHeaders),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, target := range p.targets {
		if strings.TrimSpace(target) == "" {
			return nil, fmt.Errorf("invalid target list %q: empty url", p.targets)
		}
	}
	return p, nil
}

// Targets returns a copy of the configured target list.
func (p *Prober) Targets() []string {
	return append([]string(nil), p.targets...)
}

// Run launches one browser and visits every target in order. The first failing
// browser call stops the invocation; the visits made so far are returned along
// with a *VisitError. The browser is closed exactly once before Run returns.
func (p *Prober) Run(ctx context.Context) (*Result, error) {
	if len(p.targets) == 0 {
		return nil, ErrNoTargets
	}

	browser, err := p.launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer func() {
		if cerr := browser.Close(); cerr != nil {
			log.Printf("Warning: failed to close browser: %v", cerr)
		}
	}()

	result := &Result{Visits: make([]Visit, 0, len(p.targets))}
	for _, target := range p.targets {
		visit := p.visit(ctx, browser, target)
		result.Visits = append(result.Visits, visit)
		if visit.Err != nil {
			return result, visit.Err
		}
		if p.debug {
			log.Printf("Visited %q: status %d, %d byte screenshot in %s", target, visit.StatusCode, visit.ScreenshotBytes, visit.Duration)
		}
	}
	return result, nil
}

func (p *Prober) visit(ctx context.Context, browser Browser, target string) Visit {
	start := time.Now()
	visit := Visit{URL: target}
	fail := func(step string, err error) Visit {
		visit.Duration = time.Since(start)
		visit.Err = &VisitError{URL: target, Step: step, Err: err}
		return visit
	}

	page, err := browser.NewPage(ctx)
	if err != nil {
		return fail(StepNewPage, err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			log.Printf("Warning: failed to close page for %q: %v", target, cerr)
		}
	}()
	if err := page.SetExtraHTTPHeaders(ctx, copyHeaders(p.headers)); err != nil {
		return fail(StepHeaders, err)
	}
	resp, err := page.Goto(ctx, target)
	if err != nil {
		return fail(StepNavigate, err)
	}
	visit.StatusCode = resp.StatusCode

	// The capture only proves the page rendered; the bytes are not kept.
	shot, err := page.Screenshot(ctx)
	if err != nil {
		return fail(StepScreenshot, err)
	}
	visit.ScreenshotBytes = len(shot)
	visit.Duration = time.Since(start)
	return visit
}

// JoinTargets renders a target list the way the fetch trigger returns it.
func JoinTargets(targets []string) string {
	return strings.Join(targets, ",")
}

func copyHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	return out
}
