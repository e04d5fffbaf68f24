package aurora

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeamfile_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		bf := NewBeamfile()
		bf.Beams["a"] = &Beam{Name: "a", Run: DefaultRunBlock("echo a")}
		require.NoError(t, bf.Validate())
	})

	t.Run("beam map key mismatch", func(t *testing.T) {
		bf := NewBeamfile()
		bf.Beams["a"] = &Beam{Name: "other", Run: DefaultRunBlock("echo a")}
		require.Error(t, bf.Validate())
	})

	t.Run("unknown dependency", func(t *testing.T) {
		bf := NewBeamfile()
		bf.Beams["a"] = &Beam{Name: "a", DependsOn: []string{"missing"}, Run: DefaultRunBlock("echo a")}
		err := bf.Validate()
		require.Error(t, err)
		var unknownErr *UnknownDependencyError
		require.ErrorAs(t, err, &unknownErr)
	})

	t.Run("duplicate variable name", func(t *testing.T) {
		bf := NewBeamfile()
		bf.Variables = []Variable{{Name: "v"}, {Name: "v"}}
		require.Error(t, bf.Validate())
	})

	t.Run("empty variable name", func(t *testing.T) {
		bf := NewBeamfile()
		bf.Variables = []Variable{{Name: ""}}
		require.Error(t, bf.Validate())
	})

	t.Run("unknown default beam", func(t *testing.T) {
		bf := NewBeamfile()
		bf.Beams["a"] = &Beam{Name: "a", Run: DefaultRunBlock("echo a")}
		bf.DefaultBeam = "missing"
		require.Error(t, bf.Validate())
	})
}

func TestBeamfile_Variable(t *testing.T) {
	bf := NewBeamfile()
	bf.Variables = []Variable{{Name: "greeting", DefaultValue: "hi"}}

	v, ok := bf.Variable("greeting")
	require.True(t, ok)
	assert.Equal(t, "hi", v.DefaultValue)

	_, ok = bf.Variable("missing")
	assert.False(t, ok)
}

func TestBeamfile_ResolveTarget(t *testing.T) {
	bf := NewBeamfile()
	bf.Beams["a"] = &Beam{Name: "a", Run: DefaultRunBlock("echo a")}
	bf.DefaultBeam = "a"

	target, err := bf.ResolveTarget("")
	require.NoError(t, err)
	assert.Equal(t, "a", target)

	target, err = bf.ResolveTarget("a")
	require.NoError(t, err)
	assert.Equal(t, "a", target)

	_, err = bf.ResolveTarget("missing")
	require.Error(t, err)
}

func TestBeamfile_ResolveTarget_NoDefaultNoRequest(t *testing.T) {
	bf := NewBeamfile()
	bf.Beams["a"] = &Beam{Name: "a", Run: DefaultRunBlock("echo a")}

	_, err := bf.ResolveTarget("")
	require.Error(t, err)
}
