package operator

import (
	"fmt"
	"math/bits"
	"strings"
)

// Operation identifies one entry of the operation contract. Operations are
// bit flags so a set of them fits in a single value.
type Operation uint32

const (
	// OpRead reads the full content of an object.
	OpRead Operation = 1 << iota
	// OpWrite stores the full content of an object.
	OpWrite
	// OpDelete removes an object, or a directory and everything beneath it.
	OpDelete
	// OpList enumerates the direct children of a directory.
	OpList
	// OpStat returns the metadata of an object or directory.
	OpStat
	// OpPresign produces a URL granting time-limited access to an object.
	OpPresign
)

// AllOperations is the union of every defined operation.
const AllOperations = OpRead | OpWrite | OpDelete | OpList | OpStat | OpPresign

var operationNames = []struct {
	op   Operation
	name string
}{
	{OpRead, "read"},
	{OpWrite, "write"},
	{OpDelete, "delete"},
	{OpList, "list"},
	{OpStat, "stat"},
	{OpPresign, "presign"},
}

// String returns the comma separated names of the operations in op.
func (op Operation) String() string {
	if op == 0 {
		return "none"
	}
	names := make([]string, 0, bits.OnesCount32(uint32(op)))
	for _, n := range operationNames {
		if op&n.op != 0 {
			names = append(names, n.name)
		}
	}
	if rest := op &^ AllOperations; rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(names, ",")
}

// ParseOperations parses a comma separated list of operation names, such as
// "read,list,stat". Names are case insensitive and surrounding blanks are
// ignored.
func ParseOperations(s string) (Operation, error) {
	var ops Operation
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		found := false
		for _, n := range operationNames {
			if n.name == part {
				ops |= n.op
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown operation %q", part)
		}
	}
	return ops, nil
}

// Limits carries the numeric bounds of a backend. A zero value means the
// backend imposes no bound.
type Limits struct {
	// MaxWriteSize is the largest payload, in bytes, a single Write accepts.
	MaxWriteSize int64
	// MaxListPageSize is the largest number of entries one List page holds.
	MaxListPageSize int
}

// Capability describes which operations an Operator supports and the limits
// it enforces. It is an immutable value: the only way to derive a new
// Capability from an existing one is Intersect, which can only narrow it.
type Capability struct {
	ops    Operation
	limits Limits
}

// NewCapability returns a Capability supporting ops with the given limits.
func NewCapability(ops Operation, limits Limits) Capability {
	return Capability{ops: ops & AllOperations, limits: limits}
}

// Operations returns the set of supported operations.
func (c Capability) Operations() Operation { return c.ops }

// Limits returns the numeric bounds of the capability.
func (c Capability) Limits() Limits { return c.limits }

// Has reports whether every operation in op is supported.
func (c Capability) Has(op Operation) bool {
	return op != 0 && c.ops&op == op
}

// Intersect returns the capability allowed by both c and other. Operations
// are intersected and each limit takes the tighter non-zero bound.
func (c Capability) Intersect(other Capability) Capability {
	return Capability{
		ops: c.ops & other.ops,
		limits: Limits{
			MaxWriteSize:    tighter(c.limits.MaxWriteSize, other.limits.MaxWriteSize),
			MaxListPageSize: int(tighter(int64(c.limits.MaxListPageSize), int64(other.limits.MaxListPageSize))),
		},
	}
}

// Without returns c with the operations in op removed.
func (c Capability) Without(op Operation) Capability {
	return Capability{ops: c.ops &^ op, limits: c.limits}
}

// IsSubsetOf reports whether c allows nothing that other does not.
func (c Capability) IsSubsetOf(other Capability) bool {
	if c.ops&^other.ops != 0 {
		return false
	}
	return withinLimit(c.limits.MaxWriteSize, other.limits.MaxWriteSize) &&
		withinLimit(int64(c.limits.MaxListPageSize), int64(other.limits.MaxListPageSize))
}

func (c Capability) String() string {
	s := c.ops.String()
	if c.limits.MaxWriteSize > 0 {
		s += fmt.Sprintf(" maxwritesize=%d", c.limits.MaxWriteSize)
	}
	if c.limits.MaxListPageSize > 0 {
		s += fmt.Sprintf(" maxlistpagesize=%d", c.limits.MaxListPageSize)
	}
	return s
}

func tighter(a, b int64) int64 {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

// withinLimit reports whether limit a is at least as strict as b.
func withinLimit(a, b int64) bool {
	if b <= 0 {
		return true
	}
	return a > 0 && a <= b
}
