package bucket

import (
	"sync"

	"github.com/marcelodevops/pyretic/internal/header"
)

// deliverable is what Registry.Deliver dispatches a captured packet to: a
// FwdBucket or a PathBucket accept the raw packet directly; CountBucket
// never receives packets (it tracks switch-side counters instead), so it is
// not part of this interface.
type deliverable interface {
	BucketID() string
	Deliver(pkt header.Packet)
}

// Registry implements classifier.Sink, fanning Controller deliveries out to
// a caller-supplied hook and Bucket(id) deliveries out to the bucket that
// owns id. internal/classifier and internal/policy only depend on the
// narrow Sink/BucketHandle interfaces, so Registry is the one place that
// actually needs concrete bucket types.
type Registry struct {
	mu      sync.RWMutex
	buckets map[string]deliverable

	onController func(header.Packet)
}

// NewRegistry builds an empty Registry. onController, if non-nil, is
// invoked for every packet routed to the plain Controller sentinel action
// (as opposed to a Bucket(id) action).
func NewRegistry(onController func(header.Packet)) *Registry {
	return &Registry{buckets: make(map[string]deliverable), onController: onController}
}

// Add registers a bucket so future Deliver calls naming its ID reach it.
func (r *Registry) Add(b deliverable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets[b.BucketID()] = b
}

// Remove unregisters a bucket.
func (r *Registry) Remove(bucketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, bucketID)
}

func (r *Registry) ToController(pkt header.Packet) {
	if r.onController != nil {
		r.onController(pkt)
	}
}

func (r *Registry) Deliver(bucketID string, pkt header.Packet) {
	r.mu.RLock()
	b, ok := r.buckets[bucketID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	b.Deliver(pkt)
}
