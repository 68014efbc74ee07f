package embed

import (
	"context"
	"sync"
)

// fakeEmbedder records calls and returns scripted results.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	dims  int
	errs  []error // consumed one per call before succeeding
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	vec := make([]float32, f.dims)
	if f.dims > 0 {
		vec[len(text)%f.dims] = 1
	}
	return vec, nil
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeEmbedder) Dimensions() int                  { return f.dims }
func (f *fakeEmbedder) ModelName() string                { return "fake" }
func (f *fakeEmbedder) Available(_ context.Context) bool { return true }
func (f *fakeEmbedder) Close() error                     { return nil }
