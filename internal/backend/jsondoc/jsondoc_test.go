package jsondoc

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/docmapper/internal/backend"
)

const feed = `{
  "channel": {
    "title": "Hardware",
    "item": [
      {"title": "First", "score": 4.5, "tags": ["a", "b"], "@id": "x1", "draft": false},
      {"title": "Second", "author": null, "tags": []},
      {"title": ["dup", "dup2"]}
    ]
  }
}`

func find(t *testing.T, n backend.Node, path string) []backend.Node {
	t.Helper()
	q, err := New().Compile(path)
	require.NoError(t, err)
	out, err := n.FindAll(q)
	require.NoError(t, err)
	return out
}

func root(t *testing.T) backend.Node {
	t.Helper()
	n, err := New().Parse(strings.NewReader(feed))
	require.NoError(t, err)
	return n
}

func TestFindAll_ExpandsArrays(t *testing.T) {
	items := find(t, root(t), "channel.item")
	require.Len(t, items, 3)

	titles := find(t, root(t), "channel.item.title")
	require.Len(t, titles, 4)
	assert.Equal(t, "First", titles[0].Text())
	assert.Equal(t, "dup2", titles[3].Text())
}

func TestFindAll_Scalars(t *testing.T) {
	items := find(t, root(t), "channel.item")

	title := find(t, items[0], "title")
	require.Len(t, title, 1)
	assert.Equal(t, "First", title[0].Text())

	score := find(t, items[0], "score")
	require.Len(t, score, 1)
	assert.Equal(t, "4.5", score[0].Text())

	draft := find(t, items[0], "draft")
	require.Len(t, draft, 1)
	assert.Equal(t, "false", draft[0].Text())

	tags := find(t, items[0], "tags")
	require.Len(t, tags, 2)
	assert.Equal(t, "b", tags[1].Text())
}

func TestFindAll_NullAndMissingAreAbsent(t *testing.T) {
	items := find(t, root(t), "channel.item")

	assert.Empty(t, find(t, items[1], "author"))
	assert.Empty(t, find(t, items[1], "nope"))
	assert.Empty(t, find(t, items[1], "tags"))
	assert.Len(t, find(t, items[2], "title"), 2)
}

func TestFindAll_AtKey(t *testing.T) {
	items := find(t, root(t), "channel.item")

	ids := find(t, items[0], "@id")
	require.Len(t, ids, 1)
	assert.Equal(t, "x1", ids[0].Text())
}

func TestCompile(t *testing.T) {
	_, err := New().Compile("channel.*")
	assert.Error(t, err)

	q, err := New().Compile("channel.item")
	require.NoError(t, err)
	assert.Equal(t, "channel.item", q.Path())
	assert.Equal(t, "channel.item", q.String())
}

func TestParse_Errors(t *testing.T) {
	_, err := New().Parse(strings.NewReader("{broken"))
	assert.Error(t, err)

	_, err = New().Parse(strings.NewReader("  "))
	assert.Error(t, err)

	_, err = backend.Load(New(), strings.NewReader("{broken"), "x.json")
	assert.True(t, errors.Is(err, backend.ErrBackend))
}

func TestRegistered(t *testing.T) {
	b, err := backend.Get(Name)
	require.NoError(t, err)
	assert.Equal(t, Name, b.Name())
}
