// Package watch keeps a live copy of every watched resource per cluster, fed by long-running
// watch streams, and asks for a snapshot refresh whenever that copy changes.
package watch

import (
	"sort"
	"sync"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/kubestellar/pgboard/pkg/models"
)

// byName holds one kind's objects in one namespace
type byName map[string]metav1.Object

// shard is the state of one cluster: namespace -> kind -> name -> object.
// Cluster scoped kinds live under the empty namespace.
type shard struct {
	mu      sync.RWMutex
	objects map[string]map[string]byName
	size    int
}

func newShard() *shard {
	return &shard{objects: make(map[string]map[string]byName)}
}

// Store is the keyed resource cache shared by every watch stream. Each cluster has its own
// lock, so streams of different clusters never contend.
type Store struct {
	mu     sync.RWMutex
	shards map[string]*shard
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{shards: make(map[string]*shard)}
}

func (s *Store) shard(cluster string, create bool) *shard {
	s.mu.RLock()
	sh := s.shards[cluster]
	s.mu.RUnlock()
	if sh != nil || !create {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh = s.shards[cluster]; sh == nil {
		sh = newShard()
		s.shards[cluster] = sh
	}
	return sh
}

// Apply records one watch event. Added and Modified upsert the object at its key, Deleted
// removes it. It reports whether the event changed the store.
func (s *Store) Apply(cluster, kind string, eventType watch.EventType, obj metav1.Object) bool {
	if obj == nil || obj.GetName() == "" {
		return false
	}
	sh := s.shard(cluster, true)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	switch eventType {
	case watch.Added, watch.Modified:
		sh.put(kind, obj)
		return true
	case watch.Deleted:
		return sh.remove(kind, obj.GetNamespace(), obj.GetName())
	default:
		return false
	}
}

// Replace swaps every object of kind in cluster for objs, as after a fresh list
func (s *Store) Replace(cluster, kind string, objs []metav1.Object) {
	sh := s.shard(cluster, true)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for ns, kinds := range sh.objects {
		sh.size -= len(kinds[kind])
		delete(kinds, kind)
		if len(kinds) == 0 {
			delete(sh.objects, ns)
		}
	}
	for _, obj := range objs {
		if obj != nil && obj.GetName() != "" {
			sh.put(kind, obj)
		}
	}
}

// Resources materializes the cluster's objects into a sorted ResourceSet. The result does not
// share slices with the store; the objects themselves are never mutated after insertion.
func (s *Store) Resources(cluster string) *models.ResourceSet {
	set := &models.ResourceSet{}
	sh := s.shard(cluster, false)
	if sh == nil {
		return set
	}

	sh.mu.RLock()
	for _, kinds := range sh.objects {
		for _, names := range kinds {
			for _, obj := range names {
				set.Add(obj)
			}
		}
	}
	sh.mu.RUnlock()

	set.Sort()
	return set
}

// Get returns the object stored at a key
func (s *Store) Get(cluster, namespace, kind, name string) (metav1.Object, bool) {
	sh := s.shard(cluster, false)
	if sh == nil {
		return nil, false
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	obj, ok := sh.objects[namespace][kind][name]
	return obj, ok
}

// Len returns the number of objects held for cluster
func (s *Store) Len(cluster string) int {
	sh := s.shard(cluster, false)
	if sh == nil {
		return 0
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.size
}

// Clusters returns the clusters with state, sorted
func (s *Store) Clusters() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.shards))
	for name := range s.shards {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Delete drops all state for cluster
func (s *Store) Delete(cluster string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shards, cluster)
}

func (sh *shard) put(kind string, obj metav1.Object) {
	ns := obj.GetNamespace()
	kinds := sh.objects[ns]
	if kinds == nil {
		kinds = make(map[string]byName)
		sh.objects[ns] = kinds
	}
	names := kinds[kind]
	if names == nil {
		names = make(byName)
		kinds[kind] = names
	}
	if _, exists := names[obj.GetName()]; !exists {
		sh.size++
	}
	names[obj.GetName()] = obj
}

func (sh *shard) remove(kind, namespace, name string) bool {
	names := sh.objects[namespace][kind]
	if _, ok := names[name]; !ok {
		return false
	}
	delete(names, name)
	sh.size--
	if len(names) == 0 {
		delete(sh.objects[namespace], kind)
		if len(sh.objects[namespace]) == 0 {
			delete(sh.objects, namespace)
		}
	}
	return true
}
