package types

import (
	"cmp"
	"slices"
	"time"

	"github.com/zeebo/xxh3"
)

// Assignment states that a node is responsible for consuming a subscription.
//
// The identity of an assignment is the (Subscription, Node) pair. Revision and
// CreatedAt are metadata carried from the store: Revision orders assignments by
// age and is zero for assignments that have not been persisted yet.
type Assignment struct {
	Subscription SubscriptionName `json:"subscription"`
	Node         NodeID           `json:"node"`
	Revision     uint64           `json:"-"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// SameAs reports whether both assignments describe the same pair.
func (a Assignment) SameAs(b Assignment) bool {
	return a.Subscription == b.Subscription && a.Node == b.Node
}

func compareAssignments(a, b Assignment) int {
	if c := cmp.Compare(a.Subscription, b.Subscription); c != 0 {
		return c
	}

	return cmp.Compare(a.Node, b.Node)
}

// AssignmentSet is a set of assignments indexed both by subscription and by node.
//
// Both directions are O(1) lookups so the balancing algorithm can ask "how many
// nodes run S" and "how loaded is N" without scanning. A pair is stored at most
// once. AssignmentSet is not safe for concurrent mutation; readers that share a
// set across goroutines must Clone it first.
type AssignmentSet struct {
	bySubscription map[SubscriptionName]map[NodeID]Assignment
	byNode         map[NodeID]map[SubscriptionName]Assignment
	size           int
}

// NewAssignmentSet creates a set holding the given assignments.
// Duplicate pairs keep the first occurrence.
func NewAssignmentSet(assignments ...Assignment) *AssignmentSet {
	s := &AssignmentSet{
		bySubscription: make(map[SubscriptionName]map[NodeID]Assignment),
		byNode:         make(map[NodeID]map[SubscriptionName]Assignment),
	}
	for _, a := range assignments {
		s.Add(a)
	}

	return s
}

func (s *AssignmentSet) init() {
	if s.bySubscription == nil {
		s.bySubscription = make(map[SubscriptionName]map[NodeID]Assignment)
		s.byNode = make(map[NodeID]map[SubscriptionName]Assignment)
	}
}

// Add inserts the assignment and reports whether the pair was new.
// An existing pair is left untouched, including its revision.
func (s *AssignmentSet) Add(a Assignment) bool {
	s.init()
	nodes, ok := s.bySubscription[a.Subscription]
	if !ok {
		nodes = make(map[NodeID]Assignment)
		s.bySubscription[a.Subscription] = nodes
	}
	if _, exists := nodes[a.Node]; exists {
		return false
	}
	nodes[a.Node] = a

	subs, ok := s.byNode[a.Node]
	if !ok {
		subs = make(map[SubscriptionName]Assignment)
		s.byNode[a.Node] = subs
	}
	subs[a.Subscription] = a
	s.size++

	return true
}

// Remove deletes the pair and reports whether it was present.
func (s *AssignmentSet) Remove(sub SubscriptionName, node NodeID) bool {
	nodes, ok := s.bySubscription[sub]
	if !ok {
		return false
	}
	if _, exists := nodes[node]; !exists {
		return false
	}
	delete(nodes, node)
	if len(nodes) == 0 {
		delete(s.bySubscription, sub)
	}

	subs := s.byNode[node]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(s.byNode, node)
	}
	s.size--

	return true
}

// Contains reports whether the pair is in the set.
func (s *AssignmentSet) Contains(sub SubscriptionName, node NodeID) bool {
	_, ok := s.bySubscription[sub][node]
	return ok
}

// Get returns the stored assignment for the pair.
func (s *AssignmentSet) Get(sub SubscriptionName, node NodeID) (Assignment, bool) {
	a, ok := s.bySubscription[sub][node]
	return a, ok
}

// Len returns the number of assignments.
func (s *AssignmentSet) Len() int {
	if s == nil {
		return 0
	}

	return s.size
}

// SubscriptionCount returns how many nodes hold the subscription.
func (s *AssignmentSet) SubscriptionCount(sub SubscriptionName) int {
	return len(s.bySubscription[sub])
}

// NodeCount returns how many subscriptions the node holds.
func (s *AssignmentSet) NodeCount(node NodeID) int {
	return len(s.byNode[node])
}

// ForSubscription returns the assignments of a subscription ordered by node ID.
func (s *AssignmentSet) ForSubscription(sub SubscriptionName) []Assignment {
	nodes := s.bySubscription[sub]
	out := make([]Assignment, 0, len(nodes))
	for _, a := range nodes {
		out = append(out, a)
	}
	slices.SortFunc(out, compareAssignments)

	return out
}

// ForNode returns the assignments held by a node ordered by subscription name.
func (s *AssignmentSet) ForNode(node NodeID) []Assignment {
	subs := s.byNode[node]
	out := make([]Assignment, 0, len(subs))
	for _, a := range subs {
		out = append(out, a)
	}
	slices.SortFunc(out, compareAssignments)

	return out
}

// Subscriptions returns the sorted names of subscriptions with at least one assignment.
func (s *AssignmentSet) Subscriptions() []SubscriptionName {
	out := make([]SubscriptionName, 0, len(s.bySubscription))
	for sub := range s.bySubscription {
		out = append(out, sub)
	}
	slices.Sort(out)

	return out
}

// Nodes returns the sorted IDs of nodes with at least one assignment.
func (s *AssignmentSet) Nodes() []NodeID {
	out := make([]NodeID, 0, len(s.byNode))
	for node := range s.byNode {
		out = append(out, node)
	}
	slices.Sort(out)

	return out
}

// All returns every assignment ordered by subscription name, then node ID.
func (s *AssignmentSet) All() []Assignment {
	if s == nil {
		return nil
	}
	out := make([]Assignment, 0, s.size)
	for _, nodes := range s.bySubscription {
		for _, a := range nodes {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, compareAssignments)

	return out
}

// Clone returns an independent copy of the set.
func (s *AssignmentSet) Clone() *AssignmentSet {
	if s == nil {
		return NewAssignmentSet()
	}
	c := &AssignmentSet{
		bySubscription: make(map[SubscriptionName]map[NodeID]Assignment, len(s.bySubscription)),
		byNode:         make(map[NodeID]map[SubscriptionName]Assignment, len(s.byNode)),
		size:           s.size,
	}
	for sub, nodes := range s.bySubscription {
		m := make(map[NodeID]Assignment, len(nodes))
		for id, a := range nodes {
			m[id] = a
		}
		c.bySubscription[sub] = m
	}
	for node, subs := range s.byNode {
		m := make(map[SubscriptionName]Assignment, len(subs))
		for name, a := range subs {
			m[name] = a
		}
		c.byNode[node] = m
	}

	return c
}

// Equal reports whether both sets hold exactly the same pairs.
// Revision and CreatedAt are ignored.
func (s *AssignmentSet) Equal(other *AssignmentSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	if s.Len() == 0 {
		return true
	}
	for sub, nodes := range s.bySubscription {
		for node := range nodes {
			if !other.Contains(sub, node) {
				return false
			}
		}
	}

	return true
}

// Fingerprint returns an xxh3 hash of the sorted pairs.
//
// Equal sets have equal fingerprints, which makes the value suitable for
// logging and for detecting that a pass changed nothing.
func (s *AssignmentSet) Fingerprint() uint64 {
	h := xxh3.New()
	for _, a := range s.All() {
		_, _ = h.WriteString(string(a.Subscription))
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(string(a.Node))
		_, _ = h.Write([]byte{'\n'})
	}

	return h.Sum64()
}

// AssignmentEventType tells whether a node gained or lost an assignment.
type AssignmentEventType int

const (
	// AssignmentAdded means the node should start consuming the subscription.
	AssignmentAdded AssignmentEventType = iota + 1

	// AssignmentRemoved means the node should stop consuming the subscription.
	AssignmentRemoved
)

// String returns the string representation of the event type.
func (t AssignmentEventType) String() string {
	switch t {
	case AssignmentAdded:
		return "added"
	case AssignmentRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// NodeAssignmentEvent is one change to the assignments of a single node, as
// seen by the consumer side.
type NodeAssignmentEvent struct {
	Type         AssignmentEventType
	Subscription SubscriptionName
	Node         NodeID
	Revision     uint64
}
