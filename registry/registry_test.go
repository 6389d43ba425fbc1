package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	t.Run("registers template with ordered stages", func(t *testing.T) {
		r := New()

		err := r.Register("three-stage", "scan", "draft", "publish")

		require.NoError(t, err)
		stages, err := r.Stages("three-stage")
		require.NoError(t, err)
		require.Len(t, stages, 3)
		assert.Equal(t, StageDefinition{Order: 1, Capability: "scan"}, stages[0])
		assert.Equal(t, StageDefinition{Order: 2, Capability: "draft"}, stages[1])
		assert.Equal(t, StageDefinition{Order: 3, Capability: "publish"}, stages[2])
	})

	t.Run("rejects empty kind", func(t *testing.T) {
		r := New()

		err := r.Register("", "scan")

		assert.Error(t, err)
	})

	t.Run("rejects template without stages", func(t *testing.T) {
		r := New()

		err := r.Register("empty")

		assert.ErrorIs(t, err, ErrEmptyTemplate)
	})

	t.Run("rejects empty capability name", func(t *testing.T) {
		r := New()

		err := r.Register("bad", "scan", "")

		assert.Error(t, err)
	})

	t.Run("rejects duplicate kind", func(t *testing.T) {
		r := New()
		require.NoError(t, r.Register("once", "scan"))

		err := r.Register("once", "scan")

		assert.ErrorIs(t, err, ErrDuplicateTemplate)
	})
}

func TestStages(t *testing.T) {
	t.Run("unknown kind is a configuration error", func(t *testing.T) {
		r := New()

		_, err := r.Stages("missing")

		assert.ErrorIs(t, err, ErrUnknownTemplate)
	})

	t.Run("returned slice is a private copy", func(t *testing.T) {
		r := New()
		require.NoError(t, r.Register("pair", "scan", "draft"))

		stages, err := r.Stages("pair")
		require.NoError(t, err)
		stages[0].Capability = "mutated"

		again, err := r.Stages("pair")
		require.NoError(t, err)
		assert.Equal(t, "scan", again[0].Capability)
	})
}

func TestCapabilities(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("pair", "scan", "draft"))

	capabilities, err := r.Capabilities("pair")

	require.NoError(t, err)
	assert.Equal(t, []string{"scan", "draft"}, capabilities)
}

func TestKinds(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("a", "scan"))
	require.NoError(t, r.Register("b", "draft"))

	kinds := r.Kinds()

	assert.ElementsMatch(t, []string{"a", "b"}, kinds)
}
