package filetree

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalKeepsInputOrder(t *testing.T) {
	raw := `{
		"server.js": {"file": {"contents": "js"}},
		"index.py": {"file": {"contents": "py"}},
		"lib": {"directory": {}},
		"App.java": {"file": {"contents": "java"}}
	}`
	var tree Tree
	require.NoError(t, json.Unmarshal([]byte(raw), &tree))

	assert.Equal(t, []string{"server.js", "index.py", "lib", "App.java"}, tree.Names())
	assert.Equal(t, []File{
		{Name: "server.js", Contents: "js"},
		{Name: "index.py", Contents: "py"},
		{Name: "App.java", Contents: "java"},
	}, tree.Files())
	assert.True(t, tree.Has("lib"))
}

func TestMarshalKeepsOrder(t *testing.T) {
	tree := FromFiles([]File{{"b.py", "1"}, {"a.py", "2"}})
	data, err := json.Marshal(tree)
	require.NoError(t, err)
	assert.JSONEq(t, `{"b.py":{"file":{"contents":"1"}},"a.py":{"file":{"contents":"2"}}}`, string(data))
	assert.Less(t, indexOf(string(data), "b.py"), indexOf(string(data), "a.py"))
}

func TestMergeNewKeysWin(t *testing.T) {
	current := FromFiles([]File{{"a.js", "old a"}, {"b.js", "old b"}})
	generated := FromFiles([]File{{"b.js", "new b"}, {"c.js", "new c"}})

	merged := Merge(current, generated)

	assert.Equal(t, []File{
		{Name: "a.js", Contents: "old a"},
		{Name: "b.js", Contents: "new b"},
		{Name: "c.js", Contents: "new c"},
	}, merged.Files())

	// inputs untouched
	e, _ := current.Get("b.js")
	assert.Equal(t, "old b", e.File.Contents)
	assert.False(t, current.Has("c.js"))
}

func TestMergeNilInputs(t *testing.T) {
	assert.Equal(t, 0, Merge(nil, nil).Len())
	merged := Merge(nil, FromFiles([]File{{"x", "1"}}))
	assert.Equal(t, []string{"x"}, merged.Names())
}

func TestZeroValueTree(t *testing.T) {
	var tree Tree
	assert.Equal(t, 0, tree.Len())
	assert.Nil(t, tree.Names())
	tree.SetFile("main.py", "print(1)")
	assert.Equal(t, 1, tree.Len())

	data, err := json.Marshal(&Tree{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestUnmarshalNull(t *testing.T) {
	var tree Tree
	require.NoError(t, json.Unmarshal([]byte("null"), &tree))
	assert.Equal(t, 0, tree.Len())
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
