package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPolicy_Embedded(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)

	cat, ok := p.Category("element.created")
	assert.True(t, ok)
	assert.Equal(t, "elements", cat)

	cat, ok = p.Category("imagemap.updated")
	assert.True(t, ok)
	assert.Equal(t, "widgets", cat)
}

func TestCategory_UnknownPrefix(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)

	_, ok := p.Category("whatever.happened")
	assert.False(t, ok)
}

func TestGroupPriority_Ordering(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)

	assert.Less(t, p.GroupPriority("elements_created"), p.GroupPriority("elements_updated"))
	assert.Less(t, p.GroupPriority("elements_updated"), p.GroupPriority("comments_added"))
	assert.Less(t, p.GroupPriority("comments_added"), p.GroupPriority("images_uploaded"))
}

func TestGroupPriority_UnknownSortsLast(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, p.GroupPriority("something_new"), p.GroupPriority("images_uploaded"))
}
