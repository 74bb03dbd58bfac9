// Package redis implements a storage backend on a redis server.
//
// Objects are kept in three parts under a common key prefix. Content is a
// redis string keyed by path, and metadata is a redis hash keyed by path. A
// sorted set holding every object path, all with score zero, serves listings
// and recursive deletes through lexicographic range queries. Directories are
// implied by the paths beneath them, as in an object store.
package redis

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/opencontainers/go-digest"

	"github.com/distribution/storage-operator/internal/dcontext"
	"github.com/distribution/storage-operator/operator"
	"github.com/distribution/storage-operator/operator/base"
	"github.com/distribution/storage-operator/operator/factory"
)

const (
	driverName           = "redis"
	defaultRootDirectory = "storage-operator"

	// maxWriteSize is the largest value a redis string holds.
	maxWriteSize = 512 << 20

	// deleteBatch bounds the number of objects removed per transaction.
	deleteBatch = 1000

	userPrefix = "user."
)

var schema = operator.Schema{
	{Key: "addr", Required: true, Description: "host:port of the redis server"},
	{Key: "password", Secret: true, Description: "password sent with AUTH"},
	{Key: "db", Kind: operator.KindInt, Default: "0", Description: "database selected after connecting"},
	{Key: "rootdirectory", Default: defaultRootDirectory, Description: "prefix of every key written"},
	{Key: "dialtimeout", Kind: operator.KindDuration, Default: "5s"},
	{Key: "readtimeout", Kind: operator.KindDuration, Default: "10s"},
	{Key: "writetimeout", Kind: operator.KindDuration, Default: "10s"},
	{Key: "maxidle", Kind: operator.KindInt, Default: "8", Description: "idle connections kept in the pool"},
	{Key: "maxactive", Kind: operator.KindInt, Default: "64", Description: "connections open at once; 0 for no limit"},
}

func init() {
	factory.MustRegister(driverName, &redisDriverFactory{}, schema)
}

// redisDriverFactory implements the factory.Constructor interface.
type redisDriverFactory struct{}

func (factory *redisDriverFactory) Create(ctx context.Context, config operator.Config) (operator.Accessor, error) {
	return FromParameters(ctx, config)
}

// DriverParameters holds the connection settings of a Driver.
type DriverParameters struct {
	Addr          string
	Password      string
	DB            int
	RootDirectory string
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxIdle       int
	MaxActive     int
}

type driver struct {
	pool   *redis.Pool
	prefix string
	addr   string
}

type baseEmbed struct {
	base.Base
}

// Driver is an operator.Accessor backed by a redis server. Close releases its
// connection pool.
type Driver struct {
	baseEmbed
}

// FromParameters constructs a new Driver from validated parameters.
// Required parameters:
// - addr
func FromParameters(ctx context.Context, config operator.Config) (*Driver, error) {
	params := DriverParameters{
		Addr:          config.String("addr"),
		Password:      config.String("password"),
		DB:            int(config.Int("db")),
		RootDirectory: config.String("rootdirectory"),
		DialTimeout:   config.Duration("dialtimeout"),
		ReadTimeout:   config.Duration("readtimeout"),
		WriteTimeout:  config.Duration("writetimeout"),
		MaxIdle:       int(config.Int("maxidle")),
		MaxActive:     int(config.Int("maxactive")),
	}
	if _, _, err := net.SplitHostPort(params.Addr); err != nil {
		return nil, operator.InvalidConfigError{Scheme: driverName, Key: "addr", Reason: err.Error()}
	}
	for key, v := range map[string]int{"db": params.DB, "maxidle": params.MaxIdle, "maxactive": params.MaxActive} {
		if v < 0 {
			return nil, operator.InvalidConfigError{Scheme: driverName, Key: key, Reason: "must not be negative"}
		}
	}
	return New(ctx, params)
}

// New constructs a Driver and checks the server answers.
func New(ctx context.Context, params DriverParameters) (*Driver, error) {
	root := strings.Trim(params.RootDirectory, "/")
	if root == "" {
		root = defaultRootDirectory
	}

	pool := &redis.Pool{
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			startedAt := time.Now()
			conn, err := redis.DialContext(ctx, "tcp", params.Addr,
				redis.DialConnectTimeout(params.DialTimeout),
				redis.DialReadTimeout(params.ReadTimeout),
				redis.DialWriteTimeout(params.WriteTimeout),
				redis.DialPassword(params.Password),
				redis.DialDatabase(params.DB))

			logger := dcontext.GetLoggerWithField(ctx, "redis.connect.duration", time.Since(startedAt))
			if err != nil {
				logger.Errorf("redis: error connecting to %s: %v", params.Addr, err)
				return nil, err
			}
			logger.Debugf("redis: connect %v", params.Addr)
			return conn, nil
		},
		MaxIdle:     params.MaxIdle,
		MaxActive:   params.MaxActive,
		IdleTimeout: 5 * time.Minute,
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
		Wait: false, // an exhausted pool fails fast with a retryable error
	}

	d := &driver{pool: pool, prefix: root, addr: params.Addr}
	if err := d.ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &Driver{
		baseEmbed: baseEmbed{
			Base: base.Base{
				Accessor: d,
			},
		},
	}, nil
}

// Close releases the connection pool.
func (d *Driver) Close() error {
	return d.Accessor.(*driver).pool.Close()
}

func (d *driver) ping(ctx context.Context) error {
	conn, err := d.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = redis.DoContext(conn, ctx, "PING")
	return err
}

func (d *driver) Info() operator.Info {
	return operator.Info{
		Scheme: driverName,
		Root:   "redis://" + d.addr + "/" + d.prefix,
		Capability: operator.NewCapability(
			operator.OpRead|operator.OpWrite|operator.OpDelete|operator.OpList|operator.OpStat,
			operator.Limits{MaxWriteSize: maxWriteSize},
		),
	}
}

// Read retrieves the content stored at path.
func (d *driver) Read(ctx context.Context, path string) ([]byte, error) {
	conn, err := d.pool.GetContext(ctx)
	if err != nil {
		return nil, d.parseError(ctx, "read", path, err)
	}
	defer conn.Close()

	data, err := redis.Bytes(redis.DoContext(conn, ctx, "GET", d.dataKey(path)))
	if err != nil {
		if errors.Is(err, redis.ErrNil) {
			return nil, operator.PathNotFoundError{Path: path}
		}
		return nil, d.parseError(ctx, "read", path, err)
	}
	return data, nil
}

// Write stores the content, the metadata and the index entry of path in a
// single MULTI/EXEC transaction.
func (d *driver) Write(ctx context.Context, path string, data []byte, meta operator.Metadata) error {
	conn, err := d.pool.GetContext(ctx)
	if err != nil {
		return d.parseError(ctx, "write", path, err)
	}
	defer conn.Close()

	fields := []any{
		d.metaKey(path),
		"size", len(data),
		"modtime", time.Now().UnixNano(),
		"digest", digest.FromBytes(data).String(),
	}
	if meta.ContentType != "" {
		fields = append(fields, "contenttype", meta.ContentType)
	}
	if meta.CacheControl != "" {
		fields = append(fields, "cachecontrol", meta.CacheControl)
	}
	for k, v := range meta.User {
		fields = append(fields, userPrefix+k, v)
	}

	conn.Send("MULTI")
	conn.Send("SET", d.dataKey(path), data)
	conn.Send("DEL", d.metaKey(path))
	conn.Send("HMSET", fields...)
	conn.Send("ZADD", d.indexKey(), 0, path)
	if _, err := redis.DoContext(conn, ctx, "EXEC"); err != nil {
		return d.parseError(ctx, "write", path, err)
	}
	return nil
}

// Delete removes path and every object beneath it.
func (d *driver) Delete(ctx context.Context, path string) error {
	conn, err := d.pool.GetContext(ctx)
	if err != nil {
		return d.parseError(ctx, "delete", path, err)
	}
	defer conn.Close()

	paths, err := redis.Strings(redis.DoContext(conn, ctx, "ZRANGEBYLEX", d.indexKey(), "["+path, "["+path))
	if err != nil {
		return d.parseError(ctx, "delete", path, err)
	}
	below, err := d.rangeBelow(ctx, conn, path, 0)
	if err != nil {
		return d.parseError(ctx, "delete", path, err)
	}
	paths = append(paths, below...)

	for len(paths) > 0 {
		n := min(len(paths), deleteBatch)
		batch := paths[:n]
		paths = paths[n:]

		conn.Send("MULTI")
		for _, p := range batch {
			conn.Send("DEL", d.dataKey(p), d.metaKey(p))
		}
		args := make([]any, 0, len(batch)+1)
		args = append(args, d.indexKey())
		for _, p := range batch {
			args = append(args, p)
		}
		conn.Send("ZREM", args...)
		if _, err := redis.DoContext(conn, ctx, "EXEC"); err != nil {
			return d.parseError(ctx, "delete", path, err)
		}
	}
	return nil
}

// List returns one page of the direct children of path. Children are derived
// from the index; metadata is only fetched for the files on the page.
func (d *driver) List(ctx context.Context, path string, opts operator.ListOptions) (operator.ListPage, error) {
	conn, err := d.pool.GetContext(ctx)
	if err != nil {
		return operator.ListPage{}, d.parseError(ctx, "list", path, err)
	}
	defer conn.Close()

	below, err := d.rangeBelow(ctx, conn, path, 0)
	if err != nil {
		return operator.ListPage{}, d.parseError(ctx, "list", path, err)
	}

	seen := make(map[string]bool)
	var children []operator.Entry
	for _, key := range below {
		child, isDir, ok := base.ChildOf(path, key)
		if !ok || seen[child] {
			continue
		}
		seen[child] = true
		mode := operator.ModeFile
		if isDir {
			mode = operator.ModeDir
		}
		children = append(children, operator.Entry{Path: child, Mode: mode})
	}

	page := base.Paginate(children, opts)
	for _, e := range page.Entries {
		if !e.IsDir() {
			conn.Send("HGETALL", d.metaKey(e.Path))
		}
	}
	if err := conn.Flush(); err != nil {
		return operator.ListPage{}, d.parseError(ctx, "list", path, err)
	}
	for i, e := range page.Entries {
		if e.IsDir() {
			continue
		}
		fields, err := redis.StringMap(conn.Receive())
		if err != nil {
			return operator.ListPage{}, d.parseError(ctx, "list", path, err)
		}
		page.Entries[i] = entryFromFields(e.Path, fields)
	}
	return page, nil
}

// Stat returns the entry at path.
func (d *driver) Stat(ctx context.Context, path string) (operator.Entry, error) {
	if path == "/" {
		return operator.Entry{Path: path, Mode: operator.ModeDir}, nil
	}

	conn, err := d.pool.GetContext(ctx)
	if err != nil {
		return operator.Entry{}, d.parseError(ctx, "stat", path, err)
	}
	defer conn.Close()

	fields, err := redis.StringMap(redis.DoContext(conn, ctx, "HGETALL", d.metaKey(path)))
	if err != nil {
		return operator.Entry{}, d.parseError(ctx, "stat", path, err)
	}
	if len(fields) > 0 {
		return entryFromFields(path, fields), nil
	}

	below, err := d.rangeBelow(ctx, conn, path, 1)
	if err != nil {
		return operator.Entry{}, d.parseError(ctx, "stat", path, err)
	}
	if len(below) > 0 {
		return operator.Entry{Path: path, Mode: operator.ModeDir}, nil
	}
	return operator.Entry{}, operator.PathNotFoundError{Path: path}
}

// Presign is not supported by the redis backend.
func (d *driver) Presign(ctx context.Context, path string, req operator.PresignRequest) (string, error) {
	return "", operator.UnsupportedOperationError{Op: operator.OpPresign, Capability: d.Info().Capability}
}

// rangeBelow returns the indexed paths strictly beneath dir, at most limit of
// them when limit is positive. Every such path starts with dir + "/", and
// "0" is the byte following "/".
func (d *driver) rangeBelow(ctx context.Context, conn redis.Conn, dir string, limit int) ([]string, error) {
	prefix := base.DirPrefix(dir)
	upper := prefix[:len(prefix)-1] + "0"
	args := []any{d.indexKey(), "[" + prefix, "(" + upper}
	if limit > 0 {
		args = append(args, "LIMIT", 0, limit)
	}
	return redis.Strings(redis.DoContext(conn, ctx, "ZRANGEBYLEX", args...))
}

func (d *driver) dataKey(path string) string {
	return d.prefix + "::data::" + path
}

func (d *driver) metaKey(path string) string {
	return d.prefix + "::meta::" + path
}

func (d *driver) indexKey() string {
	return d.prefix + "::index"
}

func entryFromFields(path string, fields map[string]string) operator.Entry {
	size, _ := strconv.ParseInt(fields["size"], 10, 64)
	modtime, _ := strconv.ParseInt(fields["modtime"], 10, 64)
	e := operator.Entry{
		Path:        path,
		Mode:        operator.ModeFile,
		Size:        size,
		ModTime:     time.Unix(0, modtime),
		ContentType: fields["contenttype"],
	}
	if dgst, err := digest.Parse(fields["digest"]); err == nil {
		e.Digest = dgst
		e.ETag = dgst.Encoded()[:16]
	}
	for k, v := range fields {
		if name, ok := strings.CutPrefix(k, userPrefix); ok {
			if e.Metadata == nil {
				e.Metadata = make(map[string]string)
			}
			e.Metadata[name] = v
		}
	}
	return e
}

// parseError maps redis client failures onto the operator error taxonomy.
// Broken connections, timeouts, an exhausted pool and servers that are
// loading or busy may succeed when attempted again.
func (d *driver) parseError(ctx context.Context, op, path string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if operator.IsClassified(err) {
		return err
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
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, redis.ErrPoolExhausted) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		for _, code := range []string{"LOADING", "BUSY", "TRYAGAIN", "MASTERDOWN"} {
			if strings.HasPrefix(string(replyErr), code) {
				return true
			}
		}
	}
	return false
}
