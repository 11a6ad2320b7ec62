package repository

import (
	"mime"
	"path/filepath"
)

// DefaultMimetype is used when the name has no known extension
const DefaultMimetype = "application/octet-stream"

// GuessMimetype derives a mimetype from a node name's extension
func GuessMimetype(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return DefaultMimetype
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return DefaultMimetype
}
