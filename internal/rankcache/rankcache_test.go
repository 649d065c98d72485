package rankcache

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/fulltext"
	"github.com/lychee-technology/fulltext/internal/tsquery"
)

func binding(source, text, arg string) Binding {
	return Binding{Source: source, Query: tsquery.Sanitize(text), Arg: arg}
}

func TestArena_RecordLookup(t *testing.T) {
	arena := New("")
	scope := uuid.New()

	_, ok := arena.Lookup(scope, "fullText")
	assert.False(t, ok)

	require.NoError(t, arena.Record(scope, "fullText", binding(`t0."full_text"`, "fruit", "$1")))

	entry, ok := arena.Lookup(scope, "fullText")
	require.True(t, ok)
	assert.Equal(t, "fullText", entry.Field)
	assert.Equal(t, `t0."full_text"`, entry.Current().Source)
	assert.Equal(t, "'fruit'", entry.Current().Query.String())
	assert.Equal(t, "$1", entry.Current().Arg)

	_, ok = arena.Lookup(scope, "otherFullText")
	assert.False(t, ok)
}

func TestArena_ScopesAreIsolated(t *testing.T) {
	arena := New(fulltext.DuplicateLastWriteWins)
	parent, child := uuid.New(), uuid.New()

	require.NoError(t, arena.Record(child, "tsv", binding(`t1."tsv"`, "apple", "$1")))

	_, ok := arena.Lookup(parent, "tsv")
	assert.False(t, ok)

	_, ok = arena.Lookup(child, "tsv")
	assert.True(t, ok)
}

func TestArena_DuplicatePolicies(t *testing.T) {
	tests := []struct {
		name      string
		policy    fulltext.DuplicatePolicy
		wantErr   bool
		wantCount int
		wantArg   string
	}{
		{name: "last write wins", policy: fulltext.DuplicateLastWriteWins, wantCount: 1, wantArg: "$2"},
		{name: "max keeps both", policy: fulltext.DuplicateMax, wantCount: 2, wantArg: "$2"},
		{name: "reject", policy: fulltext.DuplicateReject, wantErr: true, wantCount: 1, wantArg: "$1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arena := New(tt.policy)
			scope := uuid.New()

			require.NoError(t, arena.Record(scope, "fullText", binding(`t0."full_text"`, "apple", "$1")))
			err := arena.Record(scope, "fullText", binding(`t0."full_text"`, "banana", "$2"))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, fulltext.IsKind(err, fulltext.KindDuplicateBinding))
			} else {
				require.NoError(t, err)
			}

			entry, ok := arena.Lookup(scope, "fullText")
			require.True(t, ok)
			assert.Len(t, entry.Bindings, tt.wantCount)
			assert.Equal(t, tt.wantArg, entry.Current().Arg)
		})
	}
}

func TestArena_LookupReturnsCopy(t *testing.T) {
	arena := New(fulltext.DuplicateMax)
	scope := uuid.New()
	require.NoError(t, arena.Record(scope, "fullText", binding("v", "a", "$1")))

	entry, _ := arena.Lookup(scope, "fullText")
	entry.Bindings[0].Arg = "$99"

	again, _ := arena.Lookup(scope, "fullText")
	assert.Equal(t, "$1", again.Current().Arg)
}

func TestArena_Release(t *testing.T) {
	arena := New("")
	a, b := uuid.New(), uuid.New()
	require.NoError(t, arena.Record(a, "fullText", binding("v", "x", "$1")))
	require.NoError(t, arena.Record(b, "fullText", binding("v", "y", "$2")))
	assert.Equal(t, 2, arena.Scopes())

	arena.Release(a)
	assert.Equal(t, 1, arena.Scopes())

	_, ok := arena.Lookup(a, "fullText")
	assert.False(t, ok)
	_, ok = arena.Lookup(b, "fullText")
	assert.True(t, ok)

	arena.Release(uuid.New())
	assert.Equal(t, 1, arena.Scopes())
}

func TestArena_ConcurrentSiblingScopes(t *testing.T) {
	arena := New("")
	scopes := make([]uuid.UUID, 16)
	for i := range scopes {
		scopes[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for _, scope := range scopes {
		wg.Add(1)
		go func(scope uuid.UUID) {
			defer wg.Done()
			_ = arena.Record(scope, "tsv", binding("v", "apple", "$1"))
			_, _ = arena.Lookup(scope, "tsv")
		}(scope)
	}
	wg.Wait()

	assert.Equal(t, len(scopes), arena.Scopes())
}
