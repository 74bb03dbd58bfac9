// Package middleware keeps the named layers that configuration files can
// refer to. Built-in layers register themselves from their init functions.
package middleware

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/distribution/storage-operator/operator"
)

// InitFunc is the type of a layer factory function and is used to register
// the constructor of a named layer.
type InitFunc func(options map[string]interface{}) (operator.Layer, error)

var (
	layersMu sync.RWMutex
	layers   = make(map[string]InitFunc)
)

// Register makes a layer available under name.
func Register(name string, initFunc InitFunc) error {
	if initFunc == nil {
		return fmt.Errorf("nil init function for layer %q", name)
	}

	layersMu.Lock()
	defer layersMu.Unlock()
	if _, exists := layers[name]; exists {
		return fmt.Errorf("name already registered: %s", name)
	}
	layers[name] = initFunc
	return nil
}

// MustRegister is Register that panics on error, for use from init.
func MustRegister(name string, initFunc InitFunc) {
	if err := Register(name, initFunc); err != nil {
		panic(err)
	}
}

// Get constructs the layer registered under name with the given options.
func Get(name string, options map[string]interface{}) (operator.Layer, error) {
	layersMu.RLock()
	initFunc, exists := layers[name]
	layersMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no layer registered with name: %s", name)
	}

	l, err := initFunc(options)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", name, err)
	}
	return l, nil
}

// Names returns the registered layer names, sorted.
func Names() []string {
	layersMu.RLock()
	defer layersMu.RUnlock()
	names := make([]string, 0, len(layers))
	for name := range layers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodeOptions decodes layer options into dst, a pointer to a struct tagged
// with `mapstructure`. Strings are converted to numbers, booleans and
// durations as needed; unknown keys are an error.
func DecodeOptions(options map[string]interface{}, dst interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           dst,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}
