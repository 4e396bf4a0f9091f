package statemachine

import (
	"context"
	"fmt"
	"slices"
	"sort"
)

// node is the compiled form of a StateNode. The root node has an empty path.
type node struct {
	path     string
	parent   *node
	children map[string]*node
	typ      StateType
	initial  string
	entry    []string
	exit     []string
	on       map[string][]*transition
	tags     []string
}

// transition is the compiled form of a TransitionConfig.
type transition struct {
	event   string
	source  *node
	target  *node
	guard   *GuardConfig
	actions []string
}

// ancestors returns the chain from the root (exclusive) down to n (inclusive).
func (n *node) ancestors() []*node {
	var chain []*node

	for cur := n; cur != nil && cur.parent != nil; cur = cur.parent {
		chain = append(chain, cur)
	}

	slices.Reverse(chain)

	return chain
}

// isAncestorOrSelf reports whether n is other or one of its ancestors.
func (n *node) isAncestorOrSelf(other *node) bool {
	for cur := other; cur != nil; cur = cur.parent {
		if cur == n {
			return true
		}
	}

	return false
}

// initialLeaf descends through initial children until an atomic or final node.
func (n *node) initialLeaf() *node {
	cur := n

	for cur.typ == StateTypeCompound {
		next, ok := cur.children[cur.initial]
		if !ok {
			break
		}

		cur = next
	}

	return cur
}

func commonAncestor(a, b *node) *node {
	for cur := a.parent; cur != nil; cur = cur.parent {
		if cur.isAncestorOrSelf(b) {
			return cur
		}
	}

	return nil
}

// selectTransition bubbles the event from the active leaf up to the root and
// returns the first candidate whose guard passes, in declaration order.
func (m *Machine) selectTransition(
	ctx context.Context,
	leaf *node,
	data map[string]any,
	event Event,
) (*transition, error) {
	for cur := leaf; cur != nil; cur = cur.parent {
		for _, candidate := range cur.on[event.Type] {
			passed, err := m.evaluateGuard(ctx, candidate, leaf.path, data, event)
			if err != nil {
				return nil, err
			}

			if passed {
				return candidate, nil
			}
		}
	}

	return nil, nil //nolint:nilnil
}

func (m *Machine) evaluateGuard(
	ctx context.Context,
	candidate *transition,
	state string,
	data map[string]any,
	event Event,
) (bool, error) {
	if candidate.guard == nil {
		return true, nil
	}

	guard, ok := m.registry.Guard(candidate.guard.Type)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownGuard, candidate.guard.Type)
	}

	passed, err := guard.Evaluate(ctx, GuardArgs{
		MachineID: m.id,
		State:     state,
		Context:   data,
		Event:     event,
		Options:   candidate.guard.Options,
	})
	if err != nil {
		guardEvaluationsTotal.WithLabelValues(sanitizeMachine(m.id), candidate.guard.Type, outcomeError).Inc()

		return false, fmt.Errorf("%w: %s: %w", ErrGuardFailed, candidate.guard.Type, err)
	}

	outcome := outcomeFail
	if passed {
		outcome = outcomePass
	}

	guardEvaluationsTotal.WithLabelValues(sanitizeMachine(m.id), candidate.guard.Type, outcome).Inc()

	return passed, nil
}

// plan computes the actions of taking t from leaf and the resulting leaf.
// Exit actions run leaf first up to (excluding) the common ancestor, then the
// transition's own actions, then entry actions top-down ending at the new leaf.
// A transition targeting the active state or one of its ancestors exits and
// re-enters the target.
func (m *Machine) plan(leaf *node, t *transition) ([]ActionRef, *node) {
	if t.target == nil {
		return refs(t.actions, t.source.path, ActionKindTransition), leaf
	}

	var domain *node
	if t.target.isAncestorOrSelf(leaf) {
		domain = t.target.parent
	} else {
		domain = commonAncestor(leaf, t.target)
	}

	var actions []ActionRef

	for cur := leaf; cur != nil && cur != domain; cur = cur.parent {
		actions = append(actions, refs(cur.exit, cur.path, ActionKindExit)...)
	}

	actions = append(actions, refs(t.actions, t.source.path, ActionKindTransition)...)

	var entered []*node

	for cur := t.target; cur != nil && cur != domain; cur = cur.parent {
		entered = append(entered, cur)
	}

	slices.Reverse(entered)

	newLeaf := t.target
	for newLeaf.typ == StateTypeCompound {
		next, ok := newLeaf.children[newLeaf.initial]
		if !ok {
			break
		}

		entered = append(entered, next)
		newLeaf = next
	}

	for _, n := range entered {
		actions = append(actions, refs(n.entry, n.path, ActionKindEntry)...)
	}

	return actions, newLeaf
}

func refs(names []string, state string, kind ActionKind) []ActionRef {
	out := make([]ActionRef, 0, len(names))

	for _, name := range names {
		out = append(out, ActionRef{Name: name, State: state, Kind: kind})
	}

	return out
}

// nextEvents lists every event with a transition on the leaf, its ancestors or
// the root. Guards are not evaluated.
func nextEvents(leaf *node) []string {
	seen := make(map[string]struct{})

	for cur := leaf; cur != nil; cur = cur.parent {
		for event := range cur.on {
			seen[event] = struct{}{}
		}
	}

	events := make([]string, 0, len(seen))
	for event := range seen {
		events = append(events, event)
	}

	sort.Strings(events)

	return events
}

func tagsOf(leaf *node) []string {
	var tags []string

	for _, n := range leaf.ancestors() {
		for _, tag := range n.tags {
			if !slices.Contains(tags, tag) {
				tags = append(tags, tag)
			}
		}
	}

	sort.Strings(tags)

	return tags
}
