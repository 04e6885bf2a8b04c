package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	s := NewStore()

	s.Set("doc-1", 0, Document{"lang": "en", "source": "web"})

	doc, ok := s.Get("doc-1")
	require.True(t, ok)
	assert.Equal(t, Document{"lang": "en", "source": "web"}, doc)
	assert.Equal(t, 1, s.Len())

	_, ok = s.Get("missing")
	assert.False(t, ok)

	t.Run("CopiesBothWays", func(t *testing.T) {
		in := Document{"k": "v"}
		s.Set("doc-2", 1, in)
		in["k"] = "mutated"

		out, ok := s.Get("doc-2")
		require.True(t, ok)
		assert.Equal(t, "v", out["k"])

		out["k"] = "mutated-again"
		again, _ := s.Get("doc-2")
		assert.Equal(t, "v", again["k"])
	})

	t.Run("EmptyDocIsAbsence", func(t *testing.T) {
		s.Set("doc-3", 2, nil)
		_, ok := s.Get("doc-3")
		assert.False(t, ok)
	})
}

func TestOverwriteReindexes(t *testing.T) {
	s := NewStore()

	s.Set("doc-1", 5, Document{"lang": "en"})
	require.True(t, s.NodesWhere("lang", "en").Contains(5))

	s.Set("doc-1", 5, Document{"lang": "de"})
	assert.False(t, s.NodesWhere("lang", "en").Contains(5))
	assert.True(t, s.NodesWhere("lang", "de").Contains(5))
	assert.Equal(t, 1, s.Len())
}

func TestDelete(t *testing.T) {
	s := NewStore()

	s.Set("doc-1", 0, Document{"lang": "en"})
	s.Set("doc-2", 1, Document{"lang": "en"})

	s.Delete("doc-1")
	assert.Equal(t, 1, s.Len())

	bm := s.NodesWhere("lang", "en")
	assert.False(t, bm.Contains(0))
	assert.True(t, bm.Contains(1))

	s.Delete("missing") // no-op
	assert.Equal(t, 1, s.Len())
}

func TestNodesWhere(t *testing.T) {
	s := NewStore()

	s.Set("a", 0, Document{"lang": "en", "tier": "hot"})
	s.Set("b", 1, Document{"lang": "en", "tier": "cold"})
	s.Set("c", 2, Document{"lang": "de", "tier": "hot"})

	en := s.NodesWhere("lang", "en")
	assert.EqualValues(t, 2, en.GetCardinality())
	assert.True(t, en.Contains(0))
	assert.True(t, en.Contains(1))

	assert.True(t, s.NodesWhere("lang", "fr").IsEmpty())

	t.Run("ReturnedBitmapIsACopy", func(t *testing.T) {
		bm := s.NodesWhere("lang", "en")
		bm.Add(99)
		assert.False(t, s.NodesWhere("lang", "en").Contains(99))
	})
}

func TestMatchesAll(t *testing.T) {
	s := NewStore()

	s.Set("a", 0, Document{"lang": "en", "tier": "hot"})
	s.Set("b", 1, Document{"lang": "en", "tier": "cold"})
	s.Set("c", 2, Document{"lang": "de", "tier": "hot"})

	both := s.MatchesAll(Document{"lang": "en", "tier": "hot"})
	assert.EqualValues(t, 1, both.GetCardinality())
	assert.True(t, both.Contains(0))

	assert.True(t, s.MatchesAll(Document{"lang": "en", "tier": "missing"}).IsEmpty())
	assert.True(t, s.MatchesAll(nil).IsEmpty())
}

func TestAll(t *testing.T) {
	s := NewStore()
	s.Set("a", 0, Document{"k": "1"})
	s.Set("b", 1, Document{"k": "2"})

	seen := make(map[string]string)
	for id, doc := range s.All() {
		seen[id] = doc["k"]
	}
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, seen)
}

func TestClear(t *testing.T) {
	s := NewStore()
	s.Set("a", 0, Document{"lang": "en"})

	s.Clear()
	assert.Zero(t, s.Len())
	_, ok := s.Get("a")
	assert.False(t, ok)
	assert.True(t, s.NodesWhere("lang", "en").IsEmpty())
}
