// Package compiler implements compile(): the recursive, memoized reduction
// of a policy AST to a Classifier (spec.md §4.3), including invalidation of
// cached classifiers up the listener spine when a DynamicPolicy changes.
package compiler

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/marcelodevops/pyretic/internal/action"
	"github.com/marcelodevops/pyretic/internal/classifier"
	"github.com/marcelodevops/pyretic/internal/logging"
	"github.com/marcelodevops/pyretic/internal/match"
	"github.com/marcelodevops/pyretic/internal/policy"
	"github.com/marcelodevops/pyretic/internal/rule"
)

// Compiler holds the memoization cache and dynamic-policy listener
// bookkeeping for one policy tree. Compilation is logically single-threaded
// per spec.md §5; the singleflight group exists to collapse genuinely
// concurrent callers racing to compile the same node rather than to permit
// safe concurrent mutation of the tree.
type Compiler struct {
	mu         sync.Mutex
	cache      map[*policy.Policy]classifier.Classifier
	dependents map[*policy.Policy]map[*policy.Policy]bool // dynamic node -> nodes to invalidate
	hooked     map[*policy.Policy]bool
	group      singleflight.Group
	logger     *logging.Logger
}

// New creates a Compiler. A nil logger falls back to the package default.
func New(logger *logging.Logger) *Compiler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Compiler{
		cache:      make(map[*policy.Policy]classifier.Classifier),
		dependents: make(map[*policy.Policy]map[*policy.Policy]bool),
		hooked:     make(map[*policy.Policy]bool),
		logger:     logger,
	}
}

// Compile reduces p to a Classifier, memoizing per node.
func (c *Compiler) Compile(p *policy.Policy) (classifier.Classifier, error) {
	return c.compile(p, nil)
}

func (c *Compiler) compile(p *policy.Policy, stack []*policy.Policy) (classifier.Classifier, error) {
	c.mu.Lock()
	if cached, ok := c.cache[p]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	key := fmt.Sprintf("%p", p)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.Lock()
		if cached, ok := c.cache[p]; ok {
			c.mu.Unlock()
			return cached, nil
		}
		c.mu.Unlock()

		childStack := make([]*policy.Policy, len(stack), len(stack)+1)
		copy(childStack, stack)
		childStack = append(childStack, p)

		cls, err := c.compileNode(p, childStack)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[p] = cls
		c.mu.Unlock()
		return cls, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(classifier.Classifier), nil
}

func (c *Compiler) compileNode(p *policy.Policy, stack []*policy.Policy) (classifier.Classifier, error) {
	switch p.Kind() {
	case policy.KindIdentity:
		return classifier.IdentityClassifier(), nil
	case policy.KindDrop:
		return classifier.DropClassifier(), nil
	case policy.KindController:
		return classifier.ControllerClassifier(), nil
	case policy.KindMatch:
		return classifier.Classifier{
			rule.New(p.MatchValue(), action.Identity),
			rule.New(match.Identity, action.Drop),
		}, nil
	case policy.KindModify:
		return classifier.Classifier{rule.New(match.Identity, action.Modify(p.ModFields()))}, nil
	case policy.KindParallel:
		parts := make([]classifier.Classifier, 0, len(p.Items()))
		for _, item := range p.Items() {
			cls, err := c.compile(item, stack)
			if err != nil {
				return nil, err
			}
			parts = append(parts, cls)
		}
		return classifier.ParallelAll(parts...), nil
	case policy.KindSequential:
		parts := make([]classifier.Classifier, 0, len(p.Items()))
		for _, item := range p.Items() {
			cls, err := c.compile(item, stack)
			if err != nil {
				return nil, err
			}
			parts = append(parts, cls)
		}
		return classifier.SequentialAll(parts...), nil
	case policy.KindNegate:
		inner, err := c.compile(p.Inner(), stack)
		if err != nil {
			return nil, err
		}
		return classifier.Negate(inner)
	case policy.KindDynamic:
		return c.compileDynamic(p, stack)
	case policy.KindFwdBucket, policy.KindPathBucket, policy.KindCountBucket:
		// All three bucket leaves compile to a direct Bucket(id) action so
		// classifier.Eval's Sink.Deliver dispatches to the right bucket by
		// identity. The original routes FwdBucket traffic through a generic
		// Controller packet-in and relies on an external side-channel to
		// redirect it to the right callback once it reaches the runtime;
		// here the Sink passed to Eval dispatches by bucket id
		// uniformly for all three kinds instead of only FwdBucket, which
		// keeps Eval's result self-describing without extra plumbing.
		return classifier.Classifier{rule.New(match.Identity, action.Bucket(p.Bucket().BucketID()))}, nil
	default:
		return nil, fmt.Errorf("compiler: unhandled policy kind %v", p.Kind())
	}
}

// compileDynamic compiles a dynamic node's current inner policy and records
// an invalidation edge from the dynamic node to every ancestor (including
// itself) compiling while it was reached in this pass (stack). The first
// time a given dynamic node is seen, a listener is registered that, on
// Set(), evicts the cached classifier of every recorded dependent so the
// next Compile() call recomputes it (spec.md §3 Lifecycles, §4.3).
func (c *Compiler) compileDynamic(p *policy.Policy, stack []*policy.Policy) (classifier.Classifier, error) {
	dp := &policy.DynamicPolicy{Policy: p}

	c.mu.Lock()
	if c.dependents[p] == nil {
		c.dependents[p] = make(map[*policy.Policy]bool)
	}
	for _, ancestor := range stack {
		c.dependents[p][ancestor] = true
	}
	alreadyHooked := c.hooked[p]
	c.hooked[p] = true
	c.mu.Unlock()

	if !alreadyHooked {
		dp.Listen(func() { c.invalidate(p) })
		if c.logger != nil {
			c.logger.Debug("compiler: registered invalidation listener", "policy", fmt.Sprintf("%p", p))
		}
	}

	return c.compile(dp.Current(), stack)
}

// invalidate evicts the cached classifier of every node recorded as
// depending on dynamic node p, so the next Compile() call along that path
// recomputes from scratch.
func (c *Compiler) invalidate(p *policy.Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ancestor := range c.dependents[p] {
		delete(c.cache, ancestor)
	}
}
