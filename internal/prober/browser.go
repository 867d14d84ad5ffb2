package prober

import "context"

// Launcher starts a browser for a single prober invocation.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is a running browser instance shared by every visit of one invocation.
// Closing it releases all of its pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single browser tab.
type Page interface {
	SetExtraHTTPHeaders(ctx context.Context, headers map[string]string) error
	// Goto navigates to url and returns once the page has reached network idle.
	Goto(ctx context.Context, url string) (Response, error)
	Screenshot(ctx context.Context) ([]byte, error)
	// Close releases the tab. The browser stays up for the next visit.
	Close() error
}

// Response describes the main document response of a navigation.
type Response struct {
	StatusCode int
}
