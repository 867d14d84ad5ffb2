package api

import (
	"context"
	"log"
	"net/http"
)

// Fetcher runs the fetch trigger.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// FetchHandler serves the fetch trigger: the comma-joined target list on
// success, the error text with status 500 otherwise.
func FetchHandler(f Fetcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := f.Fetch(r.Context())
		if err != nil {
			log.Printf("Fetch probe failed: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	})
}
