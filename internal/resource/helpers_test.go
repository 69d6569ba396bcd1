package resource

import (
	"testing"

	"github.com/roach88/resync/internal/schema"
	"github.com/roach88/resync/internal/testutil"
)

func counterType(withSchema bool) Type {
	t := Type{Name: testutil.CounterType, Reducer: testutil.CounterReducer}
	if withSchema {
		t.Schema = schema.MustCompile("counter.cue", testutil.CounterSchema)
	}
	return t
}

func newTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	opts = append([]StoreOption{WithLogger(testutil.DiscardLogger())}, opts...)
	return NewStore(NewRegistry(counterType(true)), opts...)
}
