// Package ui holds the pages a browser is shown during command-line sign-in.
package ui

import (
	"embed"
	"net/http"
	"os"
)

//go:embed signed_in.html
var content embed.FS

// SignedInHandler acknowledges a sign-in redirect so the user knows to return
// to the terminal. With RIFF_DEV=1 the page is read from disk on each request.
func SignedInHandler() http.Handler {
	read := func() ([]byte, error) { return content.ReadFile("signed_in.html") }
	if os.Getenv("RIFF_DEV") == "1" {
		read = func() ([]byte, error) { return os.ReadFile("internal/ui/signed_in.html") }
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := read()
		if err != nil {
			http.Error(w, "page not found", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(data)
	})
}
