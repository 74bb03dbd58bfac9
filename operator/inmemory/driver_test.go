package inmemory

import (
	"context"
	"testing"

	"github.com/distribution/storage-operator/operator"
	"github.com/distribution/storage-operator/operator/factory"
	"github.com/distribution/storage-operator/operator/testsuites"
	"github.com/stretchr/testify/require"
	"gopkg.in/check.v1"
)

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) { check.TestingT(t) }

func init() {
	inmemoryDriverConstructor := func() (*operator.Operator, error) {
		return operator.New(New()), nil
	}
	testsuites.RegisterSuite(inmemoryDriverConstructor, testsuites.NeverSkip, testsuites.PreservesMetadata())
}

func TestFactoryRegistration(t *testing.T) {
	op, err := factory.Create(context.Background(), driverName, operator.Config{"maxsize": "4"})
	require.NoError(t, err)
	require.Equal(t, driverName, op.Scheme())
	require.Equal(t, int64(4), op.Capabilities().Limits().MaxWriteSize)
	require.False(t, op.Capabilities().Has(operator.OpPresign))

	err = op.Write(context.Background(), "/big", []byte("12345"))
	var limit operator.WriteLimitError
	require.ErrorAs(t, err, &limit)

	_, err = factory.Create(context.Background(), driverName, operator.Config{"maxsize": "-1"})
	var invalid operator.InvalidConfigError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "maxsize", invalid.Key)
}

func TestWriteBelowFile(t *testing.T) {
	ctx := context.Background()
	op := operator.New(New())
	require.NoError(t, op.Write(ctx, "/a", []byte("file")))

	err := op.Write(ctx, "/a/b", []byte("nested"))
	var ioErr operator.IOError
	require.ErrorAs(t, err, &ioErr)
	require.False(t, ioErr.Retryable)

	err = op.Write(ctx, "/", nil)
	require.Error(t, err)
}

func TestReadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	op := operator.New(New())
	data := []byte("original")
	require.NoError(t, op.Write(ctx, "/a", data))
	data[0] = 'X'

	got, err := op.Read(ctx, "/a")
	require.NoError(t, err)
	require.Equal(t, "original", string(got))

	got[0] = 'Y'
	again, err := op.Read(ctx, "/a")
	require.NoError(t, err)
	require.Equal(t, "original", string(again))
}

func TestStatDigest(t *testing.T) {
	ctx := context.Background()
	op := operator.New(New())
	require.NoError(t, op.Write(ctx, "/a", []byte("hello")))

	fi, err := op.Stat(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", fi.Digest.String())
	require.NotEmpty(t, fi.ETag)
}
