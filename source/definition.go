package source

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/pzmi/hermes/types"
)

// ErrInvalidDefinition is returned for subscription definitions that cannot be balanced.
var ErrInvalidDefinition = errors.New("invalid subscription definition")

// Definition is a subscription as administrators declare it.
//
// State defaults to ACTIVE and a zero Parallelism means the source's default
// parallelism.
type Definition struct {
	Name        string                  `json:"name" yaml:"name"`
	Parallelism int                     `json:"parallelism,omitempty" yaml:"parallelism,omitempty"`
	State       types.SubscriptionState `json:"state,omitempty" yaml:"state,omitempty"`
}

// resolve validates the definition and reports whether it is active.
func (d Definition) resolve(defaultParallelism int) (types.Subscription, bool, error) {
	name, err := types.ParseSubscriptionName(d.Name)
	if err != nil {
		return types.Subscription{}, false, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	switch d.State {
	case "", types.SubscriptionActive:
	case types.SubscriptionSuspended:
		return types.Subscription{Name: name}, false, nil
	default:
		return types.Subscription{}, false, fmt.Errorf("%w: %s has unknown state %q", ErrInvalidDefinition, name, d.State)
	}

	parallelism := d.Parallelism
	if parallelism == 0 {
		parallelism = defaultParallelism
	}
	if parallelism < 1 {
		return types.Subscription{}, false, fmt.Errorf("%w: %s has parallelism %d", ErrInvalidDefinition, name, parallelism)
	}

	return types.Subscription{Name: name, Parallelism: parallelism}, true, nil
}

func sortByName(subs []types.Subscription) {
	slices.SortFunc(subs, func(a, b types.Subscription) int { return cmp.Compare(a.Name, b.Name) })
}
