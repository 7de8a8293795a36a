package loader

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestInlineFetcher_Fetch(t *testing.T) {
	f := NewInlineFetcher(map[string]string{
		"a@1.0.0":         manifestA,
		"a@1.0.0/lazy.js": `name: "a", version: "1.0.0"`,
		"empty@1.0.0":     "",
	})

	tests := []struct {
		name     string
		req      Request
		wantErr  bool
		notFound bool
		contains string
	}{
		{name: "package", req: Request{Name: "a", Version: "1.0.0"}, contains: `factory: "a/util"`},
		{name: "module", req: Request{Name: "a", Version: "1.0.0", Path: "lazy.js"}, contains: `version: "1.0.0"`},
		{name: "missing", req: Request{Name: "b", Version: "1.0.0"}, wantErr: true, notFound: true},
		{name: "empty", req: Request{Name: "empty", Version: "1.0.0"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.Fetch(context.Background(), tt.req)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if errors.Is(err, ErrPackageNotFound) != tt.notFound {
					t.Errorf("errors.Is(err, ErrPackageNotFound) = %v, want %v", !tt.notFound, tt.notFound)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if !strings.Contains(string(result.Content), tt.contains) {
				t.Errorf("Content = %q, want it to contain %q", result.Content, tt.contains)
			}
			if !strings.HasPrefix(result.Digest, "inline:") {
				t.Errorf("Digest = %q, want inline: prefix", result.Digest)
			}
			if result.Source != "inline://"+tt.req.Key() {
				t.Errorf("Source = %q", result.Source)
			}
		})
	}
}

func TestInlineFetcher_Type(t *testing.T) {
	if got := NewInlineFetcher(nil).Type(); got != InlineType {
		t.Errorf("Type() = %q, want %q", got, InlineType)
	}
}

func TestInlineFetcher_DigestConsistency(t *testing.T) {
	f := NewInlineFetcher(map[string]string{"a@1.0.0": manifestA, "b@2.0.0": manifestB})
	req := Request{Name: "a", Version: "1.0.0"}

	first, _ := f.Fetch(context.Background(), req)
	second, _ := f.Fetch(context.Background(), req)
	if first.Digest != second.Digest {
		t.Errorf("same content produced digests %q and %q", first.Digest, second.Digest)
	}

	other, _ := f.Fetch(context.Background(), Request{Name: "b", Version: "2.0.0"})
	if first.Digest == other.Digest {
		t.Error("different content produced the same digest")
	}
}

func TestRequestKey(t *testing.T) {
	tests := []struct {
		req  Request
		want string
	}{
		{Request{Name: "a", Version: "1.0.0"}, "a@1.0.0"},
		{Request{Name: "a", Version: "1.0.0", Path: "lib/b.js"}, "a@1.0.0/lib/b.js"},
	}
	for _, tt := range tests {
		if got := tt.req.Key(); got != tt.want {
			t.Errorf("Key() = %q, want %q", got, tt.want)
		}
		if got := tt.req.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
