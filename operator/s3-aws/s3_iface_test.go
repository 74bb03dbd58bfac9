package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

type mockObject struct {
	data         []byte
	contentType  string
	cacheControl string
	metadata     map[string]*string
	modified     time.Time
}

// mockS3Client keeps a bucket in memory. Presigned requests are built by a
// real client with static credentials, which signs locally.
type mockS3Client struct {
	objects map[string]*mockObject
	mu      sync.RWMutex
	signer  *s3.S3

	// failNext, when set, is returned by the next call instead of its result.
	failNext error
}

func newMockS3Client() *mockS3Client {
	sess := session.Must(session.NewSession(aws.NewConfig().
		WithRegion("us-east-1").
		WithEndpoint("http://127.0.0.1:9000").
		WithS3ForcePathStyle(true).
		WithCredentials(credentials.NewStaticCredentials("AKIDEXAMPLE", "secret", ""))))
	return &mockS3Client{
		objects: make(map[string]*mockObject),
		signer:  s3.New(sess),
	}
}

func (m *mockS3Client) fail() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *mockS3Client) GetObjectWithContext(ctx context.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}

	obj, ok := m.objects[aws.StringValue(input.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
	}, nil
}

func (m *mockS3Client) PutObjectWithContext(ctx context.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.StringValue(input.Key)] = &mockObject{
		data:         data,
		contentType:  aws.StringValue(input.ContentType),
		cacheControl: aws.StringValue(input.CacheControl),
		metadata:     input.Metadata,
		modified:     time.Now(),
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) HeadObjectWithContext(ctx context.Context, input *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}

	obj, ok := m.objects[aws.StringValue(input.Key)]
	if !ok {
		return nil, awserr.New("NotFound", "Not Found", nil)
	}
	sum := md5.Sum(obj.data)
	out := &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  aws.Time(obj.modified),
		ETag:          aws.String(`"` + hex.EncodeToString(sum[:]) + `"`),
		Metadata:      obj.metadata,
	}
	if obj.contentType != "" {
		out.ContentType = aws.String(obj.contentType)
	}
	return out, nil
}

// ListObjectsV2WithContext pages through the keys under a prefix, folding
// keys past the delimiter into common prefixes. Continuation tokens are the
// last key or prefix returned.
func (m *mockS3Client) ListObjectsV2WithContext(ctx context.Context, input *s3.ListObjectsV2Input, opts ...request.Option) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}

	prefix := aws.StringValue(input.Prefix)
	delimiter := aws.StringValue(input.Delimiter)
	start := aws.StringValue(input.StartAfter)
	if token := aws.StringValue(input.ContinuationToken); token != "" {
		start = token
	}
	maxKeys := int(aws.Int64Value(input.MaxKeys))
	if maxKeys <= 0 || maxKeys > listMax {
		maxKeys = listMax
	}

	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	type item struct {
		name     string
		isPrefix bool
	}
	var items []item
	for _, key := range keys {
		rest := key[len(prefix):]
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+len(delimiter)]
				if len(items) == 0 || items[len(items)-1].name != cp {
					items = append(items, item{name: cp, isPrefix: true})
				}
				continue
			}
		}
		items = append(items, item{name: key})
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	count := 0
	for i, it := range items {
		if it.name <= start {
			continue
		}
		if count == maxKeys {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(items[i-1].name)
			break
		}
		count++
		if it.isPrefix {
			out.CommonPrefixes = append(out.CommonPrefixes, &s3.CommonPrefix{Prefix: aws.String(it.name)})
			continue
		}
		obj := m.objects[it.name]
		out.Contents = append(out.Contents, &s3.Object{
			Key:          aws.String(it.name),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: aws.Time(obj.modified),
		})
	}
	out.KeyCount = aws.Int64(int64(count))
	return out, nil
}

func (m *mockS3Client) DeleteObjectsWithContext(ctx context.Context, input *s3.DeleteObjectsInput, opts ...request.Option) (*s3.DeleteObjectsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}

	out := &s3.DeleteObjectsOutput{}
	for _, id := range input.Delete.Objects {
		key := aws.StringValue(id.Key)
		delete(m.objects, key)
		out.Deleted = append(out.Deleted, &s3.DeletedObject{Key: aws.String(key)})
	}
	return out, nil
}

func (m *mockS3Client) GetObjectRequest(input *s3.GetObjectInput) (*request.Request, *s3.GetObjectOutput) {
	return m.signer.GetObjectRequest(input)
}

func (m *mockS3Client) PutObjectRequest(input *s3.PutObjectInput) (*request.Request, *s3.PutObjectOutput) {
	return m.signer.PutObjectRequest(input)
}

func (m *mockS3Client) HeadObjectRequest(input *s3.HeadObjectInput) (*request.Request, *s3.HeadObjectOutput) {
	return m.signer.HeadObjectRequest(input)
}
