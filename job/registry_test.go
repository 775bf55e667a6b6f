package job_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/xraph/cadence/job"
)

type countingLoader struct {
	mu    sync.Mutex
	calls map[int64]int
	defs  map[int64]*job.Definition
}

func newCountingLoader(defs ...*job.Definition) *countingLoader {
	l := &countingLoader{calls: map[int64]int{}, defs: map[int64]*job.Definition{}}
	for _, d := range defs {
		l.defs[d.ID] = d
	}
	return l
}

var errMissing = errors.New("missing")

func (l *countingLoader) GetJobDefinition(_ context.Context, jobID int64) (*job.Definition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[jobID]++
	d, ok := l.defs[jobID]
	if !ok {
		return nil, errMissing
	}
	return d.Clone(), nil
}

func (l *countingLoader) count(jobID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[jobID]
}

func TestRegistry_CachesLoads(t *testing.T) {
	loader := newCountingLoader(&job.Definition{ID: 1, Name: "extract"})
	r := job.NewRegistry(loader)
	ctx := context.Background()

	for range 3 {
		def, err := r.Get(ctx, 1)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if def.Name != "extract" {
			t.Errorf("Name = %q, want %q", def.Name, "extract")
		}
	}
	if got := loader.count(1); got != 1 {
		t.Errorf("loader calls = %d, want 1", got)
	}
}

func TestRegistry_InvalidateReloads(t *testing.T) {
	loader := newCountingLoader(&job.Definition{ID: 1, MaxRetries: 1})
	r := job.NewRegistry(loader)
	ctx := context.Background()

	if _, err := r.Get(ctx, 1); err != nil {
		t.Fatalf("Get: %v", err)
	}
	loader.mu.Lock()
	loader.defs[1].MaxRetries = 5
	loader.mu.Unlock()

	r.Invalidate(1)
	def, err := r.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if def.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5 after invalidate", def.MaxRetries)
	}
	if got := loader.count(1); got != 2 {
		t.Errorf("loader calls = %d, want 2", got)
	}
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	r := job.NewRegistry(newCountingLoader())
	r.Put(&job.Definition{ID: 9, Params: []byte(`{"a":1}`)})

	def, err := r.Get(context.Background(), 9)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	def.Params[0] = 'X'

	again, _ := r.Get(context.Background(), 9)
	if string(again.Params) != `{"a":1}` {
		t.Errorf("cached Params mutated: %q", again.Params)
	}
}

func TestRegistry_GetManyPropagatesError(t *testing.T) {
	r := job.NewRegistry(newCountingLoader(&job.Definition{ID: 1}))

	_, err := r.GetMany(context.Background(), []int64{1, 2})
	if !errors.Is(err, errMissing) {
		t.Fatalf("err = %v, want errMissing", err)
	}

	defs, err := r.GetMany(context.Background(), []int64{1, 1})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if len(defs) != 1 {
		t.Errorf("len = %d, want 1", len(defs))
	}
}
