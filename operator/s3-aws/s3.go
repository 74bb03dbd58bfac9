// Package s3 provides an operator.Accessor implementation to store objects in
// Amazon S3 cloud storage, or any service speaking its API.
//
// This package leverages the official aws client library for interfacing with
// S3.
//
// Because S3 is a key, value store the Stat call does not support last
// modification time for directories (directories are an abstraction for key,
// value stores).
//
// Keep in mind that S3 guarantees only read-after-write consistency for new
// objects, but no read-after-update or list-after-write consistency.
package s3

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/endpoints"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/distribution/storage-operator/internal/dcontext"
	"github.com/distribution/storage-operator/operator"
	"github.com/distribution/storage-operator/operator/base"
	"github.com/distribution/storage-operator/operator/factory"
)

const driverName = "s3"

// listMax is the largest amount of objects you can request from S3 in a list call
const listMax = 1000

// maxWriteSize is the largest object a single PUT accepts.
const maxWriteSize = 5 << 30

// defaultPresignExpiry applies when a presign request carries no expiry.
const defaultPresignExpiry = 20 * time.Minute

// validRegions maps known s3 region identifiers to region descriptors
var validRegions = map[string]struct{}{}

var schema = operator.Schema{
	{Key: "bucket", Required: true, Description: "bucket holding the objects"},
	{Key: "region", Description: "AWS region of the bucket; optional with regionendpoint"},
	{Key: "regionendpoint", Description: "endpoint of an S3 compatible service"},
	{Key: "accesskey", Description: "access key ID; the default credential chain applies when unset"},
	{Key: "secretkey", Secret: true, Description: "secret access key"},
	{Key: "sessiontoken", Secret: true, Description: "session token of temporary credentials"},
	{Key: "rootdirectory", Description: "key prefix all paths are stored under"},
	{Key: "forcepathstyle", Kind: operator.KindBool, Default: "false", Description: "address the bucket in the URL path"},
	{Key: "secure", Kind: operator.KindBool, Default: "true", Description: "use HTTPS"},
	{Key: "skipverify", Kind: operator.KindBool, Default: "false", Description: "skip TLS certificate verification"},
	{Key: "useragent", Description: "value appended to the User-Agent header"},
	{Key: "maxretries", Kind: operator.KindInt, Description: "retries performed by the aws client itself"},
}

func init() {
	partitions := endpoints.DefaultPartitions()
	for _, p := range partitions {
		for region := range p.Regions() {
			validRegions[region] = struct{}{}
		}
	}

	factory.MustRegister(driverName, &s3DriverFactory{}, schema)
}

// s3DriverFactory implements the factory.Constructor interface
type s3DriverFactory struct{}

func (factory *s3DriverFactory) Create(ctx context.Context, config operator.Config) (operator.Accessor, error) {
	return FromParameters(ctx, config)
}

// DriverParameters A struct that encapsulates all of the driver parameters after all values have been set
type DriverParameters struct {
	AccessKey      string
	SecretKey      string
	SessionToken   string
	Bucket         string
	Region         string
	RegionEndpoint string
	ForcePathStyle bool
	Secure         bool
	SkipVerify     bool
	RootDirectory  string
	UserAgent      string
	// MaxRetries is handed to the aws client. Negative keeps the client's
	// default.
	MaxRetries int
}

type driver struct {
	S3            S3Client
	Bucket        string
	RootDirectory string
}

type baseEmbed struct {
	base.Base
}

// Driver is an operator.Accessor implementation backed by Amazon S3.
// Objects are stored at absolute keys in the provided bucket.
type Driver struct {
	baseEmbed
}

// FromParameters constructs a new Driver from validated parameters.
// Required parameters:
// - bucket
// - region, unless regionendpoint is given
func FromParameters(ctx context.Context, config operator.Config) (*Driver, error) {
	params := DriverParameters{
		AccessKey:      config.String("accesskey"),
		SecretKey:      config.String("secretkey"),
		SessionToken:   config.String("sessiontoken"),
		Bucket:         config.String("bucket"),
		Region:         config.String("region"),
		RegionEndpoint: config.String("regionendpoint"),
		ForcePathStyle: config.Bool("forcepathstyle"),
		Secure:         config.Bool("secure"),
		SkipVerify:     config.Bool("skipverify"),
		RootDirectory:  config.String("rootdirectory"),
		UserAgent:      config.String("useragent"),
		MaxRetries:     -1,
	}
	if v, ok := config.Get("maxretries"); ok && v != "" {
		params.MaxRetries = int(config.Int("maxretries"))
		if params.MaxRetries < 0 {
			return nil, operator.InvalidConfigError{Scheme: driverName, Key: "maxretries", Reason: "must not be negative"}
		}
	}

	// Don't check the region value if a custom endpoint is provided.
	if params.RegionEndpoint == "" {
		if params.Region == "" {
			return nil, operator.InvalidConfigError{Scheme: driverName, Key: "region", Reason: "no region parameter provided"}
		}
		if _, ok := validRegions[params.Region]; !ok {
			return nil, operator.InvalidConfigError{Scheme: driverName, Key: "region", Reason: fmt.Sprintf("invalid region provided: %v", params.Region)}
		}
	} else if params.Region == "" {
		params.Region = endpoints.UsEast1RegionID
	}

	if (params.AccessKey == "") != (params.SecretKey == "") {
		return nil, operator.InvalidConfigError{Scheme: driverName, Key: "secretkey", Reason: "accesskey and secretkey must be given together"}
	}

	return New(ctx, params)
}

// New constructs a new Driver with the given AWS credentials, region and
// bucketName.
func New(ctx context.Context, params DriverParameters) (*Driver, error) {
	awsConfig := aws.NewConfig()

	if params.AccessKey != "" && params.SecretKey != "" {
		creds := credentials.NewStaticCredentials(
			params.AccessKey,
			params.SecretKey,
			params.SessionToken,
		)
		awsConfig.WithCredentials(creds)
	}

	if params.RegionEndpoint != "" {
		awsConfig.WithEndpoint(params.RegionEndpoint)
	}

	awsConfig.WithS3ForcePathStyle(params.ForcePathStyle)
	awsConfig.WithRegion(params.Region)
	awsConfig.WithDisableSSL(!params.Secure)
	if params.MaxRetries >= 0 {
		awsConfig.WithMaxRetries(params.MaxRetries)
	}

	if params.SkipVerify {
		httpTransport := http.DefaultTransport.(*http.Transport).Clone()
		httpTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		awsConfig.WithHTTPClient(&http.Client{
			Transport: httpTransport,
		})
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create new session with aws config: %v", err)
	}

	if params.UserAgent != "" {
		sess.Handlers.Build.PushBack(request.MakeAddToUserAgentFreeFormHandler(params.UserAgent))
	}

	dcontext.GetLoggerWithFields(ctx, map[string]any{
		"s3.bucket": params.Bucket,
		"s3.region": params.Region,
	}).Debug("created s3 session")

	return newWithClient(s3.New(sess), params.Bucket, params.RootDirectory), nil
}

func newWithClient(client S3Client, bucket, rootDirectory string) *Driver {
	d := &driver{
		S3:            client,
		Bucket:        bucket,
		RootDirectory: rootDirectory,
	}

	return &Driver{
		baseEmbed: baseEmbed{
			Base: base.Base{
				Accessor: d,
			},
		},
	}
}

func (d *driver) Info() operator.Info {
	return operator.Info{
		Scheme: driverName,
		Root:   "s3://" + d.Bucket + "/" + strings.Trim(d.RootDirectory, "/"),
		Capability: operator.NewCapability(operator.AllOperations, operator.Limits{
			MaxWriteSize:    maxWriteSize,
			MaxListPageSize: listMax,
		}),
	}
}

// Read retrieves the content stored at path.
func (d *driver) Read(ctx context.Context, path string) ([]byte, error) {
	resp, err := d.S3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.Bucket),
		Key:    aws.String(d.s3Path(path)),
	})
	if err != nil {
		return nil, parseError(ctx, "read", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, parseError(ctx, "read", path, err)
	}
	return data, nil
}

// Write stores data at path with a single PUT, which S3 applies atomically.
func (d *driver) Write(ctx context.Context, path string, data []byte, meta operator.Metadata) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(d.Bucket),
		Key:    aws.String(d.s3Path(path)),
		Body:   bytes.NewReader(data),
	}
	if meta.ContentType != "" {
		input.ContentType = aws.String(meta.ContentType)
	}
	if meta.CacheControl != "" {
		input.CacheControl = aws.String(meta.CacheControl)
	}
	if len(meta.User) > 0 {
		input.Metadata = aws.StringMap(meta.User)
	}

	_, err := d.S3.PutObjectWithContext(ctx, input)
	return parseError(ctx, "write", path, err)
}

func (d *driver) statHead(ctx context.Context, path string) (operator.Entry, error) {
	resp, err := d.S3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.Bucket),
		Key:    aws.String(d.s3Path(path)),
	})
	if err != nil {
		return operator.Entry{}, err
	}
	e := operator.Entry{
		Path:        path,
		Mode:        operator.ModeFile,
		Size:        aws.Int64Value(resp.ContentLength),
		ModTime:     aws.TimeValue(resp.LastModified),
		ContentType: aws.StringValue(resp.ContentType),
		ETag:        strings.Trim(aws.StringValue(resp.ETag), `"`),
	}
	if len(resp.Metadata) > 0 {
		e.Metadata = normalizeMetadata(aws.StringValueMap(resp.Metadata))
	}
	return e, nil
}

func (d *driver) statList(ctx context.Context, path string) (operator.Entry, error) {
	resp, err := d.S3.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.Bucket),
		Prefix:  aws.String(d.s3Path(base.DirPrefix(path))),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return operator.Entry{}, err
	}
	if len(resp.Contents) > 0 || len(resp.CommonPrefixes) > 0 {
		return operator.Entry{Path: path, Mode: operator.ModeDir}, nil
	}
	return operator.Entry{}, operator.PathNotFoundError{Path: path}
}

// Stat retrieves the entry for the given path.
func (d *driver) Stat(ctx context.Context, path string) (operator.Entry, error) {
	if path == "/" {
		return operator.Entry{Path: path, Mode: operator.ModeDir}, nil
	}
	fi, err := d.statHead(ctx, path)
	if err != nil {
		// For AWS errors, we fail over to ListObjects:
		// HeadObject returns NotFound for a key which doesn't exist or a key
		// which has nested keys, and Forbidden if IAM/ACL permissions do not
		// allow Head but allow List.
		var awsErr awserr.Error
		if errors.As(err, &awsErr) && awsErr.Code() != request.CanceledErrorCode {
			fi, err := d.statList(ctx, path)
			if err != nil {
				return operator.Entry{}, parseError(ctx, "stat", path, err)
			}
			return fi, nil
		}
		return operator.Entry{}, parseError(ctx, "stat", path, err)
	}
	return fi, nil
}

// List returns one page of the objects and common prefixes that are direct
// descendants of the given path. Continuation tokens are S3's own.
func (d *driver) List(ctx context.Context, path string, opts operator.ListOptions) (operator.ListPage, error) {
	maxKeys := int64(listMax)
	if opts.Limit > 0 && opts.Limit < listMax {
		maxKeys = int64(opts.Limit)
	}

	prefix := d.s3Path(base.DirPrefix(path))
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int64(maxKeys),
	}
	if opts.Token != "" {
		input.ContinuationToken = aws.String(opts.Token)
	}

	resp, err := d.S3.ListObjectsV2WithContext(ctx, input)
	if err != nil {
		return operator.ListPage{}, parseError(ctx, "list", path, err)
	}

	entries := make([]operator.Entry, 0, len(resp.Contents)+len(resp.CommonPrefixes))
	for _, obj := range resp.Contents {
		key := aws.StringValue(obj.Key)
		if key == prefix {
			// directory marker
			continue
		}
		entries = append(entries, operator.Entry{
			Path:    d.pathFromKey(key),
			Mode:    operator.ModeFile,
			Size:    aws.Int64Value(obj.Size),
			ModTime: aws.TimeValue(obj.LastModified),
			ETag:    strings.Trim(aws.StringValue(obj.ETag), `"`),
		})
	}
	for _, commonPrefix := range resp.CommonPrefixes {
		p := aws.StringValue(commonPrefix.Prefix)
		entries = append(entries, operator.Entry{
			Path: d.pathFromKey(strings.TrimSuffix(p, "/")),
			Mode: operator.ModeDir,
		})
	}

	page := base.Paginate(entries, operator.ListOptions{})
	if aws.BoolValue(resp.IsTruncated) {
		page.Next = aws.StringValue(resp.NextContinuationToken)
	}
	return page, nil
}

// Delete recursively deletes all objects stored at "path" and its subpaths.
// We must be careful since S3 does not guarantee read after delete consistency
func (d *driver) Delete(ctx context.Context, path string) error {
	s3Objects := make([]*s3.ObjectIdentifier, 0, listMax)
	s3Path := d.s3Path(path)
	listObjectsInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(d.Bucket),
		Prefix: aws.String(s3Path),
	}

	for {
		// list all the objects
		resp, err := d.S3.ListObjectsV2WithContext(ctx, listObjectsInput)
		if err != nil {
			return parseError(ctx, "delete", path, err)
		}
		if len(resp.Contents) == 0 {
			return nil
		}

		for _, key := range resp.Contents {
			// Skip if we encounter a key that is not a subpath (so that deleting "/a" does not delete "/ab").
			if len(*key.Key) > len(s3Path) && (*key.Key)[len(s3Path)] != '/' {
				continue
			}
			s3Objects = append(s3Objects, &s3.ObjectIdentifier{
				Key: key.Key,
			})
		}

		// Delete objects only if the list is not empty, otherwise S3 API returns a cryptic error
		if len(s3Objects) > 0 {
			// A response holds at most 1000 keys, which is also the most a
			// single DeleteObjects call accepts.
			resp, err := d.S3.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(d.Bucket),
				Delete: &s3.Delete{
					Objects: s3Objects,
					Quiet:   aws.Bool(false),
				},
			})
			if err != nil {
				return parseError(ctx, "delete", path, err)
			}

			if len(resp.Errors) > 0 {
				// s3.Error does not implement the error interface.
				errs := make([]error, 0, len(resp.Errors))
				for _, err := range resp.Errors {
					errs = append(errs, errors.New(err.String()))
				}
				return operator.IOError{Scheme: driverName, Op: "delete", Path: path, Err: errors.Join(errs...)}
			}
		}
		// NOTE: we don't want to reallocate
		// the slice so we simply "reset" it
		s3Objects = s3Objects[:0]

		listObjectsInput.StartAfter = resp.Contents[len(resp.Contents)-1].Key

		// from the s3 api docs, IsTruncated "specifies whether (true) or not (false) all of the results were returned"
		// if everything has been returned, break
		if !aws.BoolValue(resp.IsTruncated) {
			break
		}
	}

	return nil
}

// Presign returns a URL granting req.Op on path, signed with the driver's
// credentials.
func (d *driver) Presign(ctx context.Context, path string, req operator.PresignRequest) (string, error) {
	expiresIn := req.Expires
	if expiresIn <= 0 {
		expiresIn = defaultPresignExpiry
	}

	bucket, key := aws.String(d.Bucket), aws.String(d.s3Path(path))
	var r *request.Request
	switch req.Op {
	case operator.OpRead:
		r, _ = d.S3.GetObjectRequest(&s3.GetObjectInput{Bucket: bucket, Key: key})
	case operator.OpWrite:
		r, _ = d.S3.PutObjectRequest(&s3.PutObjectInput{Bucket: bucket, Key: key})
	case operator.OpStat:
		r, _ = d.S3.HeadObjectRequest(&s3.HeadObjectInput{Bucket: bucket, Key: key})
	default:
		return "", operator.UnsupportedOperationError{Op: req.Op, Capability: d.Info().Capability}
	}
	r.SetContext(ctx)

	url, err := r.Presign(expiresIn)
	if err != nil {
		return "", parseError(ctx, "presign", path, err)
	}
	return url, nil
}

func (d *driver) s3Path(path string) string {
	return strings.TrimLeft(strings.TrimRight(d.RootDirectory, "/")+path, "/")
}

func (d *driver) pathFromKey(key string) string {
	return "/" + strings.TrimPrefix(key, d.s3Path("/"))
}

// S3BucketKey returns the s3 bucket key for the given path.
func (d *Driver) S3BucketKey(path string) string {
	return d.Accessor.(*driver).s3Path(base.NormalizePath(path))
}

// normalizeMetadata lower-cases user metadata keys, which S3 returns in
// canonical header form.
func normalizeMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

// retryableCodes are aws error codes of failures that may succeed when
// repeated.
var retryableCodes = map[string]struct{}{
	"RequestError":            {},
	"RequestTimeout":          {},
	"RequestTimeoutException": {},
	"ResponseTimeout":         {},
	"InternalError":           {},
	"ServiceUnavailable":      {},
	"SlowDown":                {},
}

// parseError maps aws errors onto the operator error taxonomy. Transient
// and throttling failures are retryable.
func parseError(ctx context.Context, op, path string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if operator.IsClassified(err) {
		return err
	}
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return operator.PathNotFoundError{Path: path}
		}
	}
	return operator.IOError{
		Scheme:    driverName,
		Op:        op,
		Path:      path,
		Err:       err,
		Retryable: isRetryable(err),
	}
}

func isRetryable(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		if code := reqErr.StatusCode(); code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
			return true
		}
	}
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		if _, ok := retryableCodes[awsErr.Code()]; ok {
			return true
		}
		if request.IsErrorThrottle(err) {
			return true
		}
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
