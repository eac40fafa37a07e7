package types

import (
	"fmt"
	"strings"
)

// SubscriptionName is the qualified name of a subscription: <group>.<topic>$<subscription>.
//
// The group may itself contain dots; the topic is the last dot-separated token
// before the '$' separator.
type SubscriptionName string

// ParseSubscriptionName validates a qualified subscription name.
//
// Parameters:
//   - s: Qualified name, e.g. "pl.allegro.orders$audit"
//
// Returns:
//   - SubscriptionName: The validated name
//   - error: ErrInvalidSubscriptionName wrapped with the offending input
func ParseSubscriptionName(s string) (SubscriptionName, error) {
	name := SubscriptionName(s)
	if name.Group() == "" || name.TopicName() == "" || name.Subscription() == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubscriptionName, s)
	}

	return name, nil
}

// MustParseSubscriptionName is like ParseSubscriptionName but panics on error.
// Intended for tests and static configuration.
func MustParseSubscriptionName(s string) SubscriptionName {
	name, err := ParseSubscriptionName(s)
	if err != nil {
		panic(err)
	}

	return name
}

// Topic returns the qualified topic name (<group>.<topic>).
func (n SubscriptionName) Topic() string {
	idx := strings.LastIndexByte(string(n), '$')
	if idx < 0 {
		return ""
	}

	return string(n[:idx])
}

// Group returns the topic group.
func (n SubscriptionName) Group() string {
	topic := n.Topic()
	idx := strings.LastIndexByte(topic, '.')
	if idx < 0 {
		return ""
	}

	return topic[:idx]
}

// TopicName returns the unqualified topic name.
func (n SubscriptionName) TopicName() string {
	topic := n.Topic()
	idx := strings.LastIndexByte(topic, '.')
	if idx < 0 {
		return ""
	}

	return topic[idx+1:]
}

// Subscription returns the subscription part after '$'.
func (n SubscriptionName) Subscription() string {
	idx := strings.LastIndexByte(string(n), '$')
	if idx < 0 {
		return ""
	}

	return string(n[idx+1:])
}

// String implements fmt.Stringer.
func (n SubscriptionName) String() string {
	return string(n)
}

// SubscriptionState is the lifecycle state of a subscription definition.
type SubscriptionState string

const (
	// SubscriptionActive subscriptions are balanced onto nodes.
	SubscriptionActive SubscriptionState = "ACTIVE"

	// SubscriptionSuspended subscriptions are known but receive no assignments.
	SubscriptionSuspended SubscriptionState = "SUSPENDED"
)

// Subscription is an active unit of work together with its target parallelism.
type Subscription struct {
	// Name is the qualified subscription name.
	Name SubscriptionName `json:"name" yaml:"name"`

	// Parallelism is the desired number of distinct nodes consuming this subscription (>= 1).
	Parallelism int `json:"parallelism" yaml:"parallelism"`
}
