package providers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgate/config"
	"chatgate/internal/core"
)

func names(ps []*core.Provider) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

func TestNewNamespace(t *testing.T) {
	t.Run("empty config is unavailable", func(t *testing.T) {
		_, err := NewNamespace(nil)
		assert.ErrorIs(t, err, ErrNamespaceUnavailable)
	})

	t.Run("module providers are nested", func(t *testing.T) {
		ns, err := NewNamespace(map[string]config.ProviderConfig{
			"FreeGpt": {BaseURL: "https://free.example.com", APIKey: "k", Headers: map[string]string{"X": "1"}},
			"Bing":    {BaseURL: "https://bing.example.com", Module: "Bing"},
		})
		require.NoError(t, err)

		p, ok := ns.Provider("FreeGpt")
		require.True(t, ok)
		assert.Equal(t, "https://free.example.com", p.BaseURL)
		assert.Equal(t, "k", p.APIKey)
		assert.Equal(t, "1", p.Headers["X"])

		_, ok = ns.Provider("Bing")
		assert.False(t, ok)
		sub, ok := ns.Module("Bing")
		require.True(t, ok)
		_, ok = sub.Provider("Bing")
		assert.True(t, ok)

		assert.Equal(t, []string{"FreeGpt"}, ns.Names())
	})
}

func TestTable_RegisterDuplicate(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register(&core.Provider{Name: "A"}))
	assert.Error(t, tbl.Register(&core.Provider{Name: "A"}))
	assert.Error(t, tbl.Register(&core.Provider{}))
	assert.Error(t, tbl.Register(nil))
}

func TestTable_SubmoduleIsReused(t *testing.T) {
	tbl := NewTable()
	assert.Same(t, tbl.Submodule("m"), tbl.Submodule("m"))
}

func TestRegistry_Load(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register(&core.Provider{Name: "Yqcloud"}))
	require.NoError(t, tbl.Register(&core.Provider{Name: "FreeGpt"}))
	require.NoError(t, tbl.Submodule("Bing").Register(&core.Provider{Name: "Bing"}))
	// A sub-module whose provider has another name does not resolve.
	require.NoError(t, tbl.Submodule("Acytoo").Register(&core.Provider{Name: "Other"}))

	t.Run("order and skipping", func(t *testing.T) {
		r := NewRegistry([]string{"Bing", "Missing", "FreeGpt", "Acytoo", "Yqcloud"}, StaticLoader(tbl))
		assert.Equal(t, []string{"Bing", "FreeGpt", "Yqcloud"}, names(r.Load()))
	})

	t.Run("top level wins over module", func(t *testing.T) {
		tbl := NewTable()
		top := &core.Provider{Name: "X", BaseURL: "top"}
		require.NoError(t, tbl.Register(top))
		require.NoError(t, tbl.Submodule("X").Register(&core.Provider{Name: "X", BaseURL: "nested"}))

		got := NewRegistry([]string{"X"}, StaticLoader(tbl)).Load()
		require.Len(t, got, 1)
		assert.Same(t, top, got[0])
	})

	t.Run("duplicates in candidates are kept", func(t *testing.T) {
		r := NewRegistry([]string{"FreeGpt", "FreeGpt"}, StaticLoader(tbl))
		assert.Len(t, r.Load(), 2)
	})

	t.Run("repeatable", func(t *testing.T) {
		r := NewRegistry([]string{"Yqcloud", "Bing"}, StaticLoader(tbl))
		assert.Equal(t, names(r.Load()), names(r.Load()))
	})

	t.Run("none found", func(t *testing.T) {
		r := NewRegistry([]string{"Nope"}, StaticLoader(tbl))
		assert.Empty(t, r.Load())
	})
}

func TestRegistry_LoadNamespaceUnavailable(t *testing.T) {
	r := NewRegistry([]string{"A"}, func() (Namespace, error) {
		return nil, ErrNamespaceUnavailable
	})
	assert.Empty(t, r.Load())

	r = NewRegistry([]string{"A"}, func() (Namespace, error) {
		return nil, errors.New("boom")
	})
	assert.Empty(t, r.Load())

	assert.Empty(t, NewRegistry([]string{"A"}, nil).Load())
}

func TestRegistry_CandidatesCopy(t *testing.T) {
	src := []string{"A", "B"}
	r := NewRegistry(src, nil)
	src[0] = "Z"
	got := r.Candidates()
	got[1] = "Y"
	assert.Equal(t, []string{"A", "B"}, r.Candidates())
}
