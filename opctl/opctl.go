package opctl

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/distribution/storage-operator/configuration"
	"github.com/distribution/storage-operator/internal/dcontext"
	"github.com/distribution/storage-operator/operator"
	"github.com/distribution/storage-operator/operator/factory"
	"github.com/distribution/storage-operator/operator/middleware"

	_ "github.com/distribution/storage-operator/operator/filesystem"
	_ "github.com/distribution/storage-operator/operator/inmemory"
	_ "github.com/distribution/storage-operator/operator/middleware/concurrentlimit"
	_ "github.com/distribution/storage-operator/operator/middleware/mimeguess"
	_ "github.com/distribution/storage-operator/operator/middleware/prometheus"
	_ "github.com/distribution/storage-operator/operator/middleware/readonly"
	_ "github.com/distribution/storage-operator/operator/middleware/retry"
	_ "github.com/distribution/storage-operator/operator/middleware/throttle"
	_ "github.com/distribution/storage-operator/operator/redis"
	_ "github.com/distribution/storage-operator/operator/s3-aws"
)

// configEnv names the configuration file when --config is not given.
const configEnv = "OPERATOR_CONFIGURATION_PATH"

func resolveConfiguration(path string) (*configuration.Configuration, error) {
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		return nil, fmt.Errorf("configuration path unspecified: use --config or set %s", configEnv)
	}

	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	config, err := configuration.Parse(fp)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %v", path, err)
	}

	return config, nil
}

// configureLogging prepares the context with a logger using the
// configuration.
func configureLogging(ctx context.Context, config *configuration.Configuration) (context.Context, error) {
	logrus.SetLevel(logLevel(config.Log.Level))
	logrus.SetReportCaller(config.Log.ReportCaller)

	switch config.Log.Formatter {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		return ctx, fmt.Errorf("unsupported logging formatter: %q", config.Log.Formatter)
	}

	// log the tool version with messages
	ctx = dcontext.WithLogger(ctx, dcontext.GetLogger(ctx, "version"))

	if len(config.Log.Fields) > 0 {
		// build up the static fields, if present.
		var fields []any
		values := make(map[string]any, len(config.Log.Fields))
		for k, v := range config.Log.Fields {
			fields = append(fields, k)
			values[k] = v
		}

		ctx = dcontext.WithValues(ctx, values)
		ctx = dcontext.WithLogger(ctx, dcontext.GetLogger(ctx, fields...))
	}

	return ctx, nil
}

func logLevel(level configuration.Loglevel) logrus.Level {
	l, err := logrus.ParseLevel(string(level))
	if err != nil {
		l = logrus.InfoLevel
		logrus.Warnf("error parsing level %q: %v, using %q", level, err, l)
	}

	return l
}

// newOperator constructs the configured backend and applies the configured
// layers in order.
func newOperator(ctx context.Context, config *configuration.Configuration) (*operator.Operator, error) {
	scheme := config.Storage.Type()
	op, err := factory.Create(ctx, scheme, config.Storage.Config())
	if err != nil {
		return nil, err
	}

	for _, l := range config.Layers {
		layer, err := middleware.Get(l.Name, l.Options)
		if err != nil {
			op.Close()
			return nil, err
		}
		op = op.Layer(layer)
	}

	dcontext.GetLoggerWithFields(ctx, map[string]any{
		"storage.scheme": op.Scheme(),
		"layers":         strings.Join(op.Layers(), ","),
		"capability":     op.Capabilities().String(),
	}).Debug("operator ready")
	return op, nil
}
