package dispatch

import (
	"path/filepath"
	"sync"

	"github.com/alexandertaboriskiy/navixmind-sub000/pkg/models"
)

// FileResolver maps the short names the model sees (attachment
// basenames) back to the full paths the runtime needs. The model is
// never shown host paths, so every file argument arrives as a
// basename.
type FileResolver struct {
	mu    sync.RWMutex
	paths map[string]string
}

func NewFileResolver() *FileResolver {
	return &FileResolver{paths: make(map[string]string)}
}

// SetAttachments replaces the known files with the current context's
// attachments. When two attachments share a basename, the later one
// wins, matching the order the host sent them in.
func (f *FileResolver) SetAttachments(attachments []models.Attachment) {
	paths := make(map[string]string, len(attachments))
	for _, a := range attachments {
		paths[filepath.Base(a.Path)] = a.Path
	}
	f.mu.Lock()
	f.paths = paths
	f.mu.Unlock()
}

// Add registers produced files alongside the known attachments so the
// model can reference them by basename in later tool calls. A produced
// file shadows an attachment with the same basename.
func (f *FileResolver) Add(files ...models.Attachment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range files {
		f.paths[filepath.Base(a.Path)] = a.Path
	}
}

// Resolve returns the full path for name. A value that is already a
// known full path passes through unchanged; an unknown name resolves
// to itself so the callee produces the error with the name the model
// actually used.
func (f *FileResolver) Resolve(name string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if path, ok := f.paths[name]; ok {
		return path
	}
	for _, path := range f.paths {
		if path == name {
			return name
		}
	}
	return name
}

// Paths returns the full paths of all known files, for granting
// sandbox read access.
func (f *FileResolver) Paths() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.paths))
	for _, path := range f.paths {
		out = append(out, path)
	}
	return out
}
