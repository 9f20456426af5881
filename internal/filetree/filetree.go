// Package filetree holds the project file tree exchanged between editors,
// the execution engine and the AI bridge.
//
// A tree maps a file name to an entry of the form
//
//	{ "file": { "contents": "..." } }
//
// and remembers insertion order, so that JSON round trips and iteration
// follow the order the client sent.
package filetree

import (
	"encoding/json"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Entry is one node in the tree. Entries without a file body (directories
// in some client formats) are carried through untouched.
type Entry struct {
	File      *FileBody       `json:"file,omitempty"`
	Directory json.RawMessage `json:"directory,omitempty"`
}

type FileBody struct {
	Contents string `json:"contents"`
}

// File is a flattened (name, contents) pair.
type File struct {
	Name     string
	Contents string
}

// Tree is an insertion-ordered file tree. The zero value is empty and ready
// to use.
type Tree struct {
	m *orderedmap.OrderedMap[string, Entry]
}

func New() *Tree {
	return &Tree{m: orderedmap.New[string, Entry]()}
}

// FromFiles builds a tree from files in the given order.
func FromFiles(files []File) *Tree {
	t := New()
	for _, f := range files {
		t.SetFile(f.Name, f.Contents)
	}
	return t
}

func (t *Tree) init() {
	if t.m == nil {
		t.m = orderedmap.New[string, Entry]()
	}
}

func (t *Tree) Len() int {
	if t == nil || t.m == nil {
		return 0
	}
	return t.m.Len()
}

// Set stores an entry. Existing names keep their position.
func (t *Tree) Set(name string, e Entry) {
	t.init()
	t.m.Set(name, e)
}

func (t *Tree) SetFile(name, contents string) {
	t.Set(name, Entry{File: &FileBody{Contents: contents}})
}

func (t *Tree) Get(name string) (Entry, bool) {
	if t == nil || t.m == nil {
		return Entry{}, false
	}
	return t.m.Get(name)
}

// Has reports whether name is present, regardless of entry kind.
func (t *Tree) Has(name string) bool {
	_, ok := t.Get(name)
	return ok
}

// Names returns all entry names in order.
func (t *Tree) Names() []string {
	if t.Len() == 0 {
		return nil
	}
	names := make([]string, 0, t.m.Len())
	for p := t.m.Oldest(); p != nil; p = p.Next() {
		names = append(names, p.Key)
	}
	return names
}

// Files returns the entries that carry file contents, in order.
func (t *Tree) Files() []File {
	if t.Len() == 0 {
		return nil
	}
	files := make([]File, 0, t.m.Len())
	for p := t.m.Oldest(); p != nil; p = p.Next() {
		if p.Value.File == nil {
			continue
		}
		files = append(files, File{Name: p.Key, Contents: p.Value.File.Contents})
	}
	return files
}

// Merge returns a new tree holding base overlaid with overlay. Names from
// overlay replace same-named entries in base (keeping base's position);
// new names are appended in overlay order. Neither input is modified.
func Merge(base, overlay *Tree) *Tree {
	out := New()
	if base.Len() > 0 {
		for p := base.m.Oldest(); p != nil; p = p.Next() {
			out.m.Set(p.Key, p.Value)
		}
	}
	if overlay.Len() > 0 {
		for p := overlay.m.Oldest(); p != nil; p = p.Next() {
			out.m.Set(p.Key, p.Value)
		}
	}
	return out
}

func (t *Tree) MarshalJSON() ([]byte, error) {
	if t == nil || t.m == nil {
		return []byte("{}"), nil
	}
	return t.m.MarshalJSON()
}

func (t *Tree) UnmarshalJSON(data []byte) error {
	t.m = orderedmap.New[string, Entry]()
	if string(data) == "null" {
		return nil
	}
	return t.m.UnmarshalJSON(data)
}
