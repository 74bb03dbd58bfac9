package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/distribution/storage-operator/operator"
	"github.com/stretchr/testify/require"
)

type stubAccessor struct {
	operator.Accessor
	info operator.Info
}

func (s stubAccessor) Info() operator.Info { return s.info }

func stubConstructor(scheme string, ops operator.Operation) Constructor {
	return ConstructorFunc(func(ctx context.Context, config operator.Config) (operator.Accessor, error) {
		return stubAccessor{info: operator.Info{
			Scheme:     scheme,
			Root:       config.String("root"),
			Capability: operator.NewCapability(ops, operator.Limits{}),
		}}, nil
	})
}

var stubSchema = operator.Schema{
	{Key: "root", Default: "/"},
	{Key: "token", Secret: true},
}

func TestRegisterDuplicateScheme(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("mem", stubConstructor("mem", operator.OpRead), stubSchema))

	err := r.Register("MEM", stubConstructor("mem", operator.OpRead), stubSchema)
	var dup operator.DuplicateSchemeError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "mem", dup.Scheme)
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.Register("mem", nil, nil))
	require.Error(t, r.Register("", stubConstructor("", operator.OpRead), nil))
	require.Error(t, r.Register("1abc", stubConstructor("", operator.OpRead), nil))
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("mem", stubConstructor("mem", operator.OpRead), nil)
	require.Panics(t, func() {
		r.MustRegister("mem", stubConstructor("mem", operator.OpRead), nil)
	})
}

func TestResolveUnknownScheme(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("nope")
	var unknown operator.UnknownSchemeError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "nope", unknown.Scheme)

	_, err = r.Create(context.Background(), "nope", nil)
	require.ErrorAs(t, err, &unknown)
}

func TestRegistryFreezesOnFirstLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", stubConstructor("a", operator.OpRead), nil))
	_, err := r.Resolve("a")
	require.NoError(t, err)

	err = r.Register("b", stubConstructor("b", operator.OpRead), nil)
	require.ErrorIs(t, err, ErrRegistryFrozen)
	require.Equal(t, []string{"a"}, r.Schemes())
}

func TestCreateBindsDeclaredCapability(t *testing.T) {
	r := NewRegistry()
	ops := operator.OpRead | operator.OpStat
	r.MustRegister("mem", stubConstructor("mem", ops), stubSchema)

	op, err := r.Create(context.Background(), " Mem ", operator.Config{"ROOT": "/data"})
	require.NoError(t, err)
	require.Equal(t, "mem", op.Scheme())
	require.Equal(t, "/data", op.Info().Root)
	require.Equal(t, ops, op.Capabilities().Operations())
	require.NotEmpty(t, op.BackendID())
}

func TestCreateAppliesDefaults(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("mem", stubConstructor("mem", operator.OpRead), stubSchema)

	op, err := r.Create(context.Background(), "mem", nil)
	require.NoError(t, err)
	require.Equal(t, "/", op.Info().Root)
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("mem", stubConstructor("mem", operator.OpRead), operator.Schema{
		{Key: "bucket", Required: true},
		{Key: "secure", Kind: operator.KindBool},
	})

	for _, tc := range []struct {
		name string
		cfg  operator.Config
		key  string
	}{
		{"missing required", operator.Config{}, "bucket"},
		{"unknown key", operator.Config{"bucket": "b", "colour": "red"}, "colour"},
		{"malformed bool", operator.Config{"bucket": "b", "secure": "maybe"}, "secure"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Create(context.Background(), "mem", tc.cfg)
			var invalid operator.InvalidConfigError
			require.ErrorAs(t, err, &invalid)
			require.Equal(t, tc.key, invalid.Key)
			require.Equal(t, "mem", invalid.Scheme)
		})
	}
}

func TestCreateWrapsConstructorFailure(t *testing.T) {
	r := NewRegistry()
	cause := errors.New("connection refused")
	r.MustRegister("broken", ConstructorFunc(func(context.Context, operator.Config) (operator.Accessor, error) {
		return nil, cause
	}), nil)

	_, err := r.Create(context.Background(), "broken", nil)
	var construction operator.BackendConstructionError
	require.ErrorAs(t, err, &construction)
	require.Equal(t, "broken", construction.Scheme)
	require.ErrorIs(t, err, cause)
}

func TestCreatePassesConstructorConfigErrors(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("picky", ConstructorFunc(func(context.Context, operator.Config) (operator.Accessor, error) {
		return nil, operator.InvalidConfigError{Key: "region", Reason: "unknown region"}
	}), nil)

	_, err := r.Create(context.Background(), "picky", nil)
	var invalid operator.InvalidConfigError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "picky", invalid.Scheme)
	require.Equal(t, "region", invalid.Key)
}

func TestCreateReturnsIndependentOperators(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("mem", stubConstructor("mem", operator.OpRead), nil)

	a, err := r.Create(context.Background(), "mem", nil)
	require.NoError(t, err)
	b, err := r.Create(context.Background(), "mem", nil)
	require.NoError(t, err)
	require.NotEqual(t, a.BackendID(), b.BackendID())
}

func TestSchemesSorted(t *testing.T) {
	r := NewRegistry()
	for _, s := range []string{"s3", "fs", "memory"} {
		r.MustRegister(s, stubConstructor(s, operator.OpRead), nil)
	}
	require.Equal(t, []string{"fs", "memory", "s3"}, r.Schemes())
}

func TestRegistrationsVisibleAfterFreeze(t *testing.T) {
	for round := 0; round < 20; round++ {
		r := NewRegistry()
		const n = 16
		var (
			wg        sync.WaitGroup
			succeeded [n]bool
		)
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				scheme := fmt.Sprintf("s%d", i)
				succeeded[i] = r.Register(scheme, stubConstructor(scheme, operator.OpRead), nil) == nil
			}(i)
		}

		close(start)
		_, err := r.Resolve("none")
		require.Error(t, err)
		snapshot := r.Schemes()
		wg.Wait()

		visible := make(map[string]bool, len(snapshot))
		for _, s := range snapshot {
			visible[s] = true
		}
		for i, ok := range succeeded {
			scheme := fmt.Sprintf("s%d", i)
			require.Equal(t, ok, visible[scheme], "round %d scheme %s", round, scheme)
		}
	}
}
