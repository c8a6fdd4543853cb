package api

import (
	"net/http"
	"os"
)

// spaFileSystem serves a built single-page frontend, answering unknown
// paths with index.html so client-side routes survive a reload.
type spaFileSystem struct {
	root http.FileSystem
}

// Open implements http.FileSystem.
func (s *spaFileSystem) Open(name string) (http.File, error) {
	f, err := s.root.Open(name)
	if os.IsNotExist(err) {
		return s.root.Open("/index.html")
	}
	return f, err
}
