package builtins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	assert.Greater(t, c.Len(), 0)
	assert.Len(t, c.All(), c.Len())
}

func TestCatalog_Lookup(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	b, ok := c.Lookup("random")
	require.True(t, ok)
	assert.Equal(t, []string{"min", "max"}, b.Params)
	assert.Equal(t, "random(min, max)", b.Signature())
	assert.NotEmpty(t, b.Doc)

	_, ok = c.Lookup("RANDOM")
	assert.False(t, ok, "exact lookup is case-sensitive")

	_, ok = c.Lookup("no_such_builtin")
	assert.False(t, ok)
}

func TestCatalog_LookupFold(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	b, ok := c.LookupFold("Display_Msg")
	require.True(t, ok)
	assert.Equal(t, "display_msg", b.Name)
}

func TestCatalog_ZeroArg(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	b, ok := c.Lookup("dude_obj")
	require.True(t, ok)
	assert.Empty(t, b.Params)
	assert.Equal(t, "dude_obj()", b.Signature())
}

func TestCatalog_NilSafe(t *testing.T) {
	var c *Catalog
	_, ok := c.Lookup("random")
	assert.False(t, ok)
	_, ok = c.LookupFold("random")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	assert.Nil(t, c.All())
}
