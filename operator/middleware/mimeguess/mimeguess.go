// Package mimeguess provides a layer that fills in the content type of writes
// that do not carry one, guessing from the path's extension.
package mimeguess

import (
	"context"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/distribution/storage-operator/operator"
	"github.com/distribution/storage-operator/operator/middleware"
)

const name = "mimeguess"

// sniffFallback is what http.DetectContentType answers when it recognizes
// nothing.
const sniffFallback = "application/octet-stream"

func init() {
	middleware.MustRegister(name, newFromOptions)
}

// Option configures a Layer.
type Option func(*Layer)

// WithTypes adds extension to content type mappings consulted before the
// system table. Extensions are matched case-insensitively, with or without
// the leading dot.
func WithTypes(types map[string]string) Option {
	return func(l *Layer) {
		for ext, typ := range types {
			l.types[normalizeExt(ext)] = typ
		}
	}
}

// WithSniffing inspects the content of writes whose extension is unknown.
func WithSniffing() Option {
	return func(l *Layer) { l.sniff = true }
}

// Layer sets Metadata.ContentType on writes without one. Writes with an
// explicit content type, and every other operation, pass through untouched.
type Layer struct {
	types map[string]string
	sniff bool
}

// New returns a mimeguess layer.
func New(opts ...Option) *Layer {
	l := &Layer{types: make(map[string]string)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type options struct {
	Types map[string]string `mapstructure:"types"`
	Sniff bool              `mapstructure:"sniff"`
}

func newFromOptions(raw map[string]interface{}) (operator.Layer, error) {
	var opts options
	if err := middleware.DecodeOptions(raw, &opts); err != nil {
		return nil, err
	}
	l := New(WithTypes(opts.Types))
	l.sniff = opts.Sniff
	return l, nil
}

// Name implements operator.Layer.
func (l *Layer) Name() string { return name }

// Apply implements operator.Layer.
func (l *Layer) Apply(inner operator.Accessor) operator.Accessor {
	return &accessor{Accessor: inner, layer: l}
}

// Guess returns the content type for a file at p holding data, or "" when
// none can be determined.
func (l *Layer) Guess(p string, data []byte) string {
	ext := normalizeExt(path.Ext(p))
	if ext != "" {
		if typ, ok := l.types[ext]; ok {
			return typ
		}
		if typ := mime.TypeByExtension(ext); typ != "" {
			return typ
		}
	}
	if l.sniff && len(data) > 0 {
		if typ := http.DetectContentType(data); typ != sniffFallback {
			return typ
		}
	}
	return ""
}

func normalizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

type accessor struct {
	operator.Accessor
	layer *Layer
}

func (a *accessor) Write(ctx context.Context, path string, data []byte, meta operator.Metadata) error {
	if meta.ContentType == "" {
		if typ := a.layer.Guess(path, data); typ != "" {
			meta = meta.Clone()
			meta.ContentType = typ
		}
	}
	return a.Accessor.Write(ctx, path, data, meta)
}
