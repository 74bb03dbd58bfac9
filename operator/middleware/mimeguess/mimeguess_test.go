package mimeguess

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/distribution/storage-operator/operator"
	"github.com/distribution/storage-operator/operator/inmemory"
	"github.com/distribution/storage-operator/operator/middleware"
)

func contentTypeAfterWrite(t *testing.T, l operator.Layer, p string, data []byte, opts ...operator.WriteOption) string {
	op := operator.New(inmemory.New()).Layer(l)
	ctx := context.Background()
	require.NoError(t, op.Write(ctx, p, data, opts...))
	e, err := op.Stat(ctx, p)
	require.NoError(t, err)
	return e.ContentType
}

func TestGuessFromExtension(t *testing.T) {
	l := New()
	require.Equal(t, "application/json", contentTypeAfterWrite(t, l, "/a.json", []byte("{}")))
	require.Equal(t, "image/png", contentTypeAfterWrite(t, l, "/img/B.PNG", []byte("x")))
	require.Equal(t, "", contentTypeAfterWrite(t, l, "/blob.unknownext", []byte("x")))
	require.Equal(t, "", contentTypeAfterWrite(t, l, "/noext", []byte("plain text")))
}

func TestExplicitTypeUntouched(t *testing.T) {
	require.Equal(t, "text/x-custom", contentTypeAfterWrite(t, New(), "/a.json", []byte("{}"), operator.WithContentType("text/x-custom")))
}

func TestCallerMetadataNotModified(t *testing.T) {
	meta := operator.Metadata{User: map[string]string{"k": "v"}}
	require.Equal(t, "application/json", contentTypeAfterWrite(t, New(), "/a.json", nil, operator.WithMetadata(meta)))
	require.Empty(t, meta.ContentType)
}

func TestCustomTypes(t *testing.T) {
	l := New(WithTypes(map[string]string{"WASMX": "application/x-wasmx", ".json": "application/vnd.custom+json"}))
	require.Equal(t, "application/x-wasmx", contentTypeAfterWrite(t, l, "/m.wasmx", nil))
	require.Equal(t, "application/vnd.custom+json", contentTypeAfterWrite(t, l, "/a.json", nil))
}

func TestSniffing(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	require.Equal(t, "", contentTypeAfterWrite(t, New(), "/noext", png))
	require.Equal(t, "image/png", contentTypeAfterWrite(t, New(WithSniffing()), "/noext", png))
	require.Equal(t, "", contentTypeAfterWrite(t, New(WithSniffing()), "/noext", []byte{0x00, 0x01, 0x02}))
}

func TestFromOptions(t *testing.T) {
	l, err := middleware.Get("mimeguess", map[string]interface{}{
		"types": map[string]interface{}{"md": "text/markdown"},
		"sniff": true,
	})
	require.NoError(t, err)
	require.Equal(t, "text/markdown", l.(*Layer).Guess("/README.md", nil))
	require.True(t, l.(*Layer).sniff)
}
