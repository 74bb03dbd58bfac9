// Package operator defines the one canonical storage handle, Operator, and the
// contracts every storage backend and layer binds to.
//
// A backend package implements Accessor and registers a constructor with the
// factory package:
//
//	func init() {
//		factory.MustRegister("inmemory", &inMemoryFactory{}, schema)
//	}
//
// Callers never see the Accessor. They construct an Operator by scheme and
// wrap it with layers:
//
//	op, err := factory.Create(ctx, "filesystem", operator.Config{"rootdirectory": "/data"})
//	if err != nil {
//		return err
//	}
//	op = op.Layer(retry.New()).Layer(mimeguess.New())
//
// Backend packages depend on this package and never the reverse, and none of
// them declares an operator type of its own, so values built by different
// backends are always the same Go type.
package operator
