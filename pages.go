package main

import (
	"embed"
	"errors"
	"io/fs"
	"os"
)

//go:embed web/*
var embeddedFiles embed.FS

// PageLoader returns the content of a named static page.
type PageLoader interface {
	Load(name string) ([]byte, error)
}

// PageStore reads pages from a directory on every call, so edits show up on
// the next request.  Pages missing from the directory are served from the
// copy built into the binary.
type PageStore struct {
	dir      fs.FS
	fallback fs.FS
}

// NewPageStore reads from root.  An empty root serves the built-in pages only.
func NewPageStore(root string) *PageStore {
	ps := &PageStore{}
	if root != "" {
		ps.dir = os.DirFS(root)
	}
	if sub, err := fs.Sub(embeddedFiles, "web"); err == nil {
		ps.fallback = sub
	}
	return ps
}

// Load returns the full content of the named page.
func (ps *PageStore) Load(name string) ([]byte, error) {
	if ps.dir != nil {
		data, err := fs.ReadFile(ps.dir, name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if ps.fallback == nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return fs.ReadFile(ps.fallback, name)
}
