package browser

import (
	"context"
	"errors"
	"testing"
)

type fakeRenderer struct {
	pages  map[string]string
	closed int
}

func (f *fakeRenderer) Render(ctx context.Context, url string) (*Page, error) {
	return &Page{URL: url, HTML: f.pages[url]}, nil
}

func (f *fakeRenderer) Close() error {
	f.closed++
	return nil
}

func TestLazyStartsOnceAndReleases(t *testing.T) {
	fake := &fakeRenderer{pages: map[string]string{"https://ir.example.com": "<html></html>"}}
	starts := 0
	l := NewLazy(func(ctx context.Context) (Renderer, error) {
		starts++
		return fake, nil
	}, nil)

	if err := l.Close(); err != nil {
		t.Fatalf("Close() before use: %v", err)
	}
	if starts != 0 {
		t.Fatal("Close must not start a session")
	}

	for i := 0; i < 3; i++ {
		if _, err := l.Render(context.Background(), "https://ir.example.com"); err != nil {
			t.Fatalf("Render() error: %v", err)
		}
	}
	if starts != 1 {
		t.Errorf("session started %d times, want 1", starts)
	}

	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if fake.closed != 1 {
		t.Errorf("session closed %d times, want 1", fake.closed)
	}
	if _, err := l.Render(context.Background(), "https://ir.example.com"); err == nil {
		t.Error("Render after Close should fail")
	}
}

func TestLazyRemembersStartFailure(t *testing.T) {
	starts := 0
	l := NewLazy(func(ctx context.Context) (Renderer, error) {
		starts++
		return nil, errors.New("chrome not found")
	}, nil)

	for i := 0; i < 2; i++ {
		if _, err := l.Render(context.Background(), "https://ir.example.com"); err == nil {
			t.Fatal("expected start failure")
		}
	}
	if starts != 1 {
		t.Errorf("factory called %d times, want 1", starts)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close() after failed start: %v", err)
	}
}

func TestLazyWithoutFactory(t *testing.T) {
	l := NewLazy(nil, nil)
	if l.Available() {
		t.Error("Available() should be false without a factory")
	}
	if _, err := l.Render(context.Background(), "https://ir.example.com"); err == nil {
		t.Error("expected error without a factory")
	}
}
