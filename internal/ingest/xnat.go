package ingest

import (
	"path/filepath"
	"strings"
)

// NewXNATAdapter reads an XNAT export laid out as
// <subject>/<session>/scans/<scan>/resources/DICOM/files/*.dcm.
// Subject and session labels come from the directory names, not the headers.
func NewXNATAdapter(opts ...Option) Adapter {
	return &dicomWalker{format: "xnat", locate: xnatLocator, opts: buildOptions(opts)}
}

func xnatLocator(path string, _ *Header) (string, string, bool) {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for i, part := range parts {
		if part == "scans" && i >= 2 && parts[i-2] != "" {
			return parts[i-2], parts[i-1], true
		}
	}
	return "", "", false
}
