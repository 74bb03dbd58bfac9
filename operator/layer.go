package operator

// Layer is middleware over the operation contract: given the accessor of an
// Operator it returns an accessor with identical operations and added
// behavior. A layer instance may hold state shared by every accessor it
// produces, so applying one instance to several Operators shares that state.
type Layer interface {
	// Name identifies the layer in an Operator's layer chain.
	Name() string

	// Apply wraps inner. It must not modify inner.
	Apply(inner Accessor) Accessor
}

// Restrictor is implemented by layers that narrow the capability of the
// Operator they are applied to. The result is always intersected with the
// current capability, so a Restrictor can never grant an operation.
type Restrictor interface {
	Restrict(current Capability) Capability
}

// LayerFunc adapts a function to a stateless Layer.
func LayerFunc(name string, apply func(inner Accessor) Accessor) Layer {
	return layerFunc{name: name, apply: apply}
}

type layerFunc struct {
	name  string
	apply func(inner Accessor) Accessor
}

func (l layerFunc) Name() string                  { return l.name }
func (l layerFunc) Apply(inner Accessor) Accessor { return l.apply(inner) }
