package strategy

import (
	"net/url"
	"path"
	"strings"

	"github.com/assetcache/assetcache/pkg/types"
)

// Class is the resource class assigned to a request.
type Class int

const (
	// ClassNone marks a request the engine does not intercept.
	ClassNone Class = iota
	// ClassModel marks a 3D model asset request.
	ClassModel
	// ClassStatic marks a style, script, image or font request.
	ClassStatic
	// ClassDocument marks a markup or navigation request.
	ClassDocument
)

// Kind returns the partition kind backing a class. ClassNone has no
// partition.
func (c Class) Kind() (types.PartitionKind, bool) {
	switch c {
	case ClassModel:
		return types.KindModels, true
	case ClassStatic:
		return types.KindStatic, true
	case ClassDocument:
		return types.KindRuntime, true
	default:
		return "", false
	}
}

var modelExtensions = map[string]bool{
	".glb":  true,
	".gltf": true,
}

var staticExtensions = map[string]bool{
	".css":   true,
	".js":    true,
	".mjs":   true,
	".png":   true,
	".jpg":   true,
	".jpeg":  true,
	".gif":   true,
	".svg":   true,
	".webp":  true,
	".ico":   true,
	".woff":  true,
	".woff2": true,
	".ttf":   true,
	".otf":   true,
}

var documentExtensions = map[string]bool{
	".html": true,
	".htm":  true,
}

// Selector classifies request URLs into resource classes using path-suffix
// rules. Classification depends only on the path, never on runtime
// heuristics.
type Selector struct {
	// host is the site origin. Requests addressed to any other host are
	// never intercepted.
	host string
}

// NewSelector creates a selector for the given site origin host. An empty
// host disables the cross-origin check (every request is treated as
// same-origin).
func NewSelector(host string) *Selector {
	return &Selector{host: host}
}

// Classify assigns a resource class to a request URL, in precedence order:
// model extension, static extension set, markup or root document. Requests
// failing all three rules, and requests to a different origin, are not
// intercepted.
func (s *Selector) Classify(u *url.URL) Class {
	if s.host != "" && u.Host != "" && u.Host != s.host {
		return ClassNone
	}
	return ClassifyPath(u.Path)
}

// ClassifyPath classifies by path alone. The preloader uses it on manifest
// entries, which carry no origin.
func ClassifyPath(p string) Class {
	ext := strings.ToLower(path.Ext(p))

	switch {
	case modelExtensions[ext]:
		return ClassModel
	case staticExtensions[ext]:
		return ClassStatic
	case documentExtensions[ext]:
		return ClassDocument
	case p == "/" || p == "" || strings.HasSuffix(p, "/"):
		return ClassDocument
	default:
		return ClassNone
	}
}
