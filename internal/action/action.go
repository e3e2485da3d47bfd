// Package action implements the Action sum type of spec.md §3: a packet
// under a Rule produces results by independently applying each action in an
// ordered list and unioning the results.
package action

import (
	"fmt"
	"sort"
	"strings"
)

type Kind int

const (
	KindIdentity Kind = iota
	KindDrop
	KindController
	KindModify
	KindBucket
)

// Action is a single packet-producing step. Mod is populated only for
// KindModify; BucketID only for KindBucket (the bucket itself lives in
// internal/bucket and is looked up by ID to avoid an import cycle between
// action and bucket).
type Action struct {
	Kind     Kind
	Mod      map[string]any
	BucketID string
}

var (
	Identity   = Action{Kind: KindIdentity}
	Drop       = Action{Kind: KindDrop}
	Controller = Action{Kind: KindController}
)

// Modify builds a Modify(m) action.
func Modify(mods map[string]any) Action {
	return Action{Kind: KindModify, Mod: mods}
}

// Bucket builds a Bucket(id) action referencing a registered bucket.
func Bucket(id string) Action {
	return Action{Kind: KindBucket, BucketID: id}
}

// IsTerminal reports whether this action, once reached while pushing a rule
// through a sequential composition, short-circuits traversal of the
// right-hand classifier (§4.2: Controller and Bucket are terminal).
func (a Action) IsTerminal() bool {
	return a.Kind == KindController || a.Kind == KindBucket
}

// IsFilterSafe reports whether a is one a filter policy's classifier may
// emit (§3: filter policies never modify a packet).
func (a Action) IsFilterSafe() bool {
	return a.Kind == KindIdentity || a.Kind == KindDrop
}

// Key returns a canonical string identifying this action, used for
// deduplicating action lists produced by classifier Parallel.
func (a Action) Key() string {
	switch a.Kind {
	case KindIdentity:
		return "id"
	case KindDrop:
		return "drop"
	case KindController:
		return "ctrl"
	case KindBucket:
		return "bucket:" + a.BucketID
	case KindModify:
		keys := make([]string, 0, len(a.Mod))
		for k := range a.Mod {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString("mod:")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s=%v;", k, a.Mod[k])
		}
		return b.String()
	default:
		return "?"
	}
}

func (a Action) Equal(other Action) bool { return a.Key() == other.Key() }

func (a Action) String() string {
	switch a.Kind {
	case KindIdentity:
		return "identity"
	case KindDrop:
		return "drop"
	case KindController:
		return "controller"
	case KindBucket:
		return fmt.Sprintf("bucket(%s)", a.BucketID)
	case KindModify:
		return "modify(" + a.Key()[len("mod:"):] + ")"
	default:
		return "unknown"
	}
}

// DedupActions removes actions equal under Key, preserving first occurrence
// order (§4.2 Parallel: "action list ... deduplicated").
func DedupActions(actions []Action) []Action {
	seen := make(map[string]bool, len(actions))
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		k := a.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
	}
	return out
}

// Compose sequentially composes two Modify actions, as used when pushing a
// Modify through a classifier in §4.2: the later modify wins per field.
func Compose(first, second Action) Action {
	merged := make(map[string]any, len(first.Mod)+len(second.Mod))
	for k, v := range first.Mod {
		merged[k] = v
	}
	for k, v := range second.Mod {
		merged[k] = v
	}
	return Modify(merged)
}
