package metrics

import "github.com/docker/go-metrics"

const (
	// NamespacePrefix is the namespace of prometheus metrics
	NamespacePrefix = "storage_operator"
)

var (
	// LayerNamespace is the prometheus namespace of operations observed by
	// the prometheus layer
	LayerNamespace = metrics.NewNamespace(NamespacePrefix, "layer", nil)
)
