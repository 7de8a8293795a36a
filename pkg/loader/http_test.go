package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mod/b/2.0.0/b.cue":
			_, _ = w.Write([]byte(manifestB))
		case "/mod/b/2.0.0/lib/x.js.cue":
			_, _ = w.Write([]byte(`x: 1`))
		case "/mod/broken/1.0.0/broken.cue":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f := NewHTTPFetcher(server.URL+"/mod", server.Client())
	if f.Type() != "http" {
		t.Errorf("Type() = %q", f.Type())
	}

	result, err := f.Fetch(context.Background(), Request{Name: "b", Version: "2.0.0"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(result.Content) != manifestB {
		t.Errorf("Content = %q", result.Content)
	}
	if result.Source != server.URL+"/mod/b/2.0.0/b.cue" {
		t.Errorf("Source = %q", result.Source)
	}

	result, err = f.Fetch(context.Background(), Request{Name: "b", Version: "2.0.0", Path: "lib/x.js"})
	if err != nil {
		t.Fatalf("Fetch(module) error = %v", err)
	}
	if string(result.Content) != "x: 1" {
		t.Errorf("module Content = %q", result.Content)
	}

	if _, err := f.Fetch(context.Background(), Request{Name: "missing", Version: "1.0.0"}); !errors.Is(err, ErrPackageNotFound) {
		t.Errorf("Fetch(missing) error = %v, want ErrPackageNotFound", err)
	}

	_, err = f.Fetch(context.Background(), Request{Name: "broken", Version: "1.0.0"})
	if err == nil || errors.Is(err, ErrPackageNotFound) {
		t.Errorf("Fetch(broken) error = %v, want a retryable error", err)
	}
}
