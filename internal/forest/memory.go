package forest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/kerfworks/kerf/api"
)

// MemoryStore is an in-process Store used by tests and dry runs.
//
// Secondary indexes are roaring bitmaps of node Seqs (per kind, per
// project, dirty set), so paged queries intersect bitmaps instead of
// scanning every node.
type MemoryStore struct {
	mu       sync.RWMutex
	nodes    map[Ref]*Node
	bySeq    map[uint64]Ref
	children map[Ref][]Ref
	nextSeq  uint64
	now      func() time.Time

	kindIdx    map[api.Kind]*roaring64.Bitmap
	projectIdx map[string]*roaring64.Bitmap
	dirtyIdx   *roaring64.Bitmap
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:      make(map[Ref]*Node),
		bySeq:      make(map[uint64]Ref),
		children:   make(map[Ref][]Ref),
		now:        time.Now,
		kindIdx:    make(map[api.Kind]*roaring64.Bitmap),
		projectIdx: make(map[string]*roaring64.Bitmap),
		dirtyIdx:   roaring64.New(),
	}
}

// GetNode implements Reader.
func (s *MemoryStore) GetNode(ctx context.Context, ref Ref) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return cloneNode(n), nil
}

// Children implements Reader.
func (s *MemoryStore) Children(ctx context.Context, ref Ref) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodes[ref]; !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	refs := s.children[ref]
	out := make([]*Node, 0, len(refs))
	for _, c := range refs {
		out = append(out, cloneNode(s.nodes[c]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// ParentChain implements Reader.
func (s *MemoryStore) ParentChain(ctx context.Context, ref Ref) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	var chain []*Node
	for p := n.Parent; !p.IsZero(); {
		pn, ok := s.nodes[p]
		if !ok {
			return nil, fmt.Errorf("parent %s of %s: %w", p, ref, ErrNotFound)
		}
		chain = append(chain, cloneNode(pn))
		p = pn.Parent
	}
	return chain, nil
}

// Query implements Reader.
func (s *MemoryStore) Query(ctx context.Context, q Query) ([]*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.candidates(q)
	limit := q.limit()
	out := make([]*Node, 0, min(limit, int(candidates.GetCardinality())))
	it := candidates.Iterator()
	it.AdvanceIfNeeded(q.After + 1)
	for it.HasNext() && len(out) < limit {
		n := s.nodes[s.bySeq[it.Next()]]
		if q.matches(n) {
			out = append(out, cloneNode(n))
		}
	}
	return out, nil
}

// candidates intersects the bitmap indexes selected by q.
// Must be called with s.mu held.
func (s *MemoryStore) candidates(q Query) *roaring64.Bitmap {
	var sets []*roaring64.Bitmap
	if q.Kind != api.KindUnknown {
		sets = append(sets, s.bitmap(s.kindIdx[q.Kind]))
	}
	if q.Project != "" {
		sets = append(sets, s.bitmap(s.projectIdx[q.Project]))
	}
	if q.DirtyOnly {
		sets = append(sets, s.dirtyIdx)
	}
	if len(sets) == 0 {
		all := roaring64.New()
		for _, bm := range s.kindIdx {
			all.Or(bm)
		}
		return all
	}
	out := sets[0].Clone()
	for _, bm := range sets[1:] {
		out.And(bm)
	}
	return out
}

func (s *MemoryStore) bitmap(bm *roaring64.Bitmap) *roaring64.Bitmap {
	if bm == nil {
		return roaring64.New()
	}
	return bm
}

// SetScore implements Store.
func (s *MemoryStore) SetScore(ctx context.Context, ref Ref, score float64, clearAt uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[ref]
	if !ok {
		return false, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	n.Score = score
	n.Scored = true
	n.ScoredAt = s.now()
	if clearAt == 0 || n.Gen != clearAt {
		return false, nil
	}
	n.Dirty = false
	s.dirtyIdx.Remove(n.Seq)
	return true, nil
}

// SetDirty implements Store.
func (s *MemoryStore) SetDirty(ctx context.Context, ref Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[ref]; !ok {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	s.markChain(ref)
	return nil
}

// markChain dirties ref and its ancestors. Must be called with s.mu held.
func (s *MemoryStore) markChain(ref Ref) {
	now := s.now()
	for r := ref; !r.IsZero(); {
		n, ok := s.nodes[r]
		if !ok {
			return
		}
		n.Dirty = true
		n.Gen++
		n.DirtiedAt = now
		s.dirtyIdx.Add(n.Seq)
		r = n.Parent
	}
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, n *Node) error {
	if err := n.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(n)
}

// PutBatch implements Store.
func (s *MemoryStore) PutBatch(ctx context.Context, nodes []*Node) error {
	for _, n := range nodes {
		if err := n.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		if err := s.put(n); err != nil {
			return err
		}
	}
	return nil
}

// put must be called with s.mu held.
func (s *MemoryStore) put(in *Node) error {
	project := in.Ref.ID
	if !in.Parent.IsZero() {
		parent, ok := s.nodes[in.Parent]
		if !ok {
			return fmt.Errorf("%w: %s: %w", ErrBadParent, in.Parent, ErrNotFound)
		}
		project = parent.Project
	}

	if existing, ok := s.nodes[in.Ref]; ok {
		if existing.Project != project {
			return fmt.Errorf("%w: %s cannot move from project %s to %s", ErrBadParent, in.Ref, existing.Project, project)
		}
		existing.Attributes = cloneNode(in).Attributes
		if existing.Parent != in.Parent {
			s.unlink(existing.Parent, in.Ref)
			s.markChain(existing.Parent)
			existing.Parent = in.Parent
			s.children[in.Parent] = append(s.children[in.Parent], in.Ref)
		}
		s.markChain(in.Ref)
		return nil
	}

	s.nextSeq++
	n := cloneNode(in)
	n.Seq = s.nextSeq
	n.Project = project
	n.Score, n.Scored, n.Gen = 0, false, 0
	s.nodes[n.Ref] = n
	s.bySeq[n.Seq] = n.Ref
	index(s.kindIdx, n.Ref.Kind, n.Seq)
	index(s.projectIdx, project, n.Seq)
	if !n.Parent.IsZero() {
		s.children[n.Parent] = append(s.children[n.Parent], n.Ref)
	}
	s.markChain(n.Ref)
	return nil
}

func (s *MemoryStore) unlink(parent, child Ref) {
	kids := s.children[parent]
	for i, c := range kids {
		if c == child {
			s.children[parent] = append(kids[:i:i], kids[i+1:]...)
			return
		}
	}
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, ref Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[ref]
	if !ok {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	parent := n.Parent

	var drop func(Ref)
	drop = func(r Ref) {
		for _, c := range s.children[r] {
			drop(c)
		}
		dn := s.nodes[r]
		delete(s.children, r)
		delete(s.nodes, r)
		delete(s.bySeq, dn.Seq)
		s.kindIdx[dn.Ref.Kind].Remove(dn.Seq)
		s.projectIdx[dn.Project].Remove(dn.Seq)
		s.dirtyIdx.Remove(dn.Seq)
	}
	drop(ref)

	if !parent.IsZero() {
		s.unlink(parent, ref)
		s.markChain(parent)
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func index[K comparable](idx map[K]*roaring64.Bitmap, key K, seq uint64) {
	bm, ok := idx[key]
	if !ok {
		bm = roaring64.New()
		idx[key] = bm
	}
	bm.Add(seq)
}

var _ Store = (*MemoryStore)(nil)
