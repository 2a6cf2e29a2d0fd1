package btree

import (
	"github.com/prequeldb/prequel/handle"
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/pager"
)

// Raw is the untyped B+-tree: values are opaque ValueSize-byte records, and
// DeriveKey/KeyLess (from Options) give them an order. Tree[T] wraps Raw
// with a serial.Codec to work in terms of Go values instead of raw bytes.
type Raw struct {
	engine  *pager.Engine
	alloc   Allocator
	opts    Options
	anchorH handle.Handle[Anchor]

	cursors      map[int]*Cursor
	nextCursorID int
}

// NewRaw attaches a raw tree to an already-initialized anchor (anchorH must
// have been Set to a zero Anchor{} the first time a tree is created).
func NewRaw(engine *pager.Engine, alloc Allocator, opts Options, anchorH handle.Handle[Anchor]) *Raw {
	return &Raw{engine: engine, alloc: alloc, opts: opts, anchorH: anchorH}
}

func (t *Raw) Anchor() Anchor { return t.anchorH.Get() }

func (t *Raw) Size() uint64 { return t.anchorH.Get().Size }

func (t *Raw) Empty() bool { return t.anchorH.Get().Empty() }

func (t *Raw) blockSize() int { return int(t.engine.BlockSize()) }

func (t *Raw) pinLeaf(b base.BlockIndex, initialize bool) leaf {
	bh, err := t.engine.Pin(b, initialize)
	if err != nil {
		panic(err) // cache/pager invariants only fail on programmer error (double pin, invalid sentinel)
	}
	return leaf{t, bh}
}

func (t *Raw) pinInternal(b base.BlockIndex, initialize bool) internal {
	bh, err := t.engine.Pin(b, initialize)
	if err != nil {
		panic(err)
	}
	return internal{t, bh}
}

func (t *Raw) newLeaf() (base.BlockIndex, leaf, error) {
	b, err := t.alloc.Allocate(t.blockSize())
	if err != nil {
		return 0, leaf{}, err
	}
	n := t.pinLeaf(b, true)
	n.setPrev(base.InvalidBlock)
	n.setNext(base.InvalidBlock)
	n.setCount(0)
	return b, n, nil
}

func (t *Raw) newInternal() (base.BlockIndex, internal, error) {
	b, err := t.alloc.Allocate(t.blockSize())
	if err != nil {
		return 0, internal{}, err
	}
	n := t.pinInternal(b, true)
	n.setCount(0)
	return b, n, nil
}

// pathEntry records, for one internal node visited while descending to a
// leaf, the node's block and the index of the child that was followed.
type pathEntry struct {
	block base.BlockIndex
	idx   int
}

// descend walks from the root to the leaf that would contain key, recording
// the internal-node path taken. If the tree is empty, leaf is InvalidBlock.
func (t *Raw) descend(key []byte) (leafBlock base.BlockIndex, path []pathEntry, err error) {
	a := t.anchorH.Get()
	if a.Empty() {
		return base.InvalidBlock, nil, nil
	}
	cur := a.Root
	for level := uint64(1); level < a.Height; level++ {
		n := t.pinInternal(cur, false)
		idx := n.childIndexFor(key)
		path = append(path, pathEntry{block: cur, idx: idx})
		cur = n.childAt(idx)
		n.release()
	}
	return cur, path, nil
}

// searchLeaf returns the slot a key occupies (or would occupy) in n.
func (t *Raw) searchLeaf(n leaf, key []byte) (idx int, found bool) {
	c := n.count()
	for i := 0; i < c; i++ {
		k := n.keyAt(i)
		if t.opts.KeyLess(key, k) {
			return i, false
		}
		if !t.opts.KeyLess(k, key) {
			return i, true
		}
	}
	return c, false
}

// Find looks up the value whose derived key equals key.
func (t *Raw) Find(key []byte) (value []byte, found bool, err error) {
	leafBlock, _, err := t.descend(key)
	if err != nil || !leafBlock.Valid() {
		return nil, false, err
	}
	n := t.pinLeaf(leafBlock, false)
	defer n.release()
	idx, ok := t.searchLeaf(n, key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), n.valueAt(idx)...), true, nil
}

// CreateCursor builds a cursor positioned per mode (spec §4.6's seek modes).
func (t *Raw) CreateCursor(mode SeekMode) *Cursor {
	c := &Cursor{}
	t.registerCursor(c)
	a := t.anchorH.Get()
	switch {
	case a.Empty() || mode == SeekNone:
		c.atEnd = true
	case mode == SeekMin:
		c.leaf, c.idx = a.Leftmost, 0
	case mode == SeekMax:
		n := t.pinLeaf(a.Rightmost, false)
		c.leaf, c.idx = a.Rightmost, n.count()-1
		n.release()
	}
	return c
}

// LowerBound returns a cursor at the first entry whose key is >= key.
func (t *Raw) LowerBound(key []byte) (*Cursor, error) {
	leafBlock, _, err := t.descend(key)
	c := &Cursor{}
	t.registerCursor(c)
	if err != nil {
		return c, err
	}
	if !leafBlock.Valid() {
		c.atEnd = true
		return c, nil
	}
	n := t.pinLeaf(leafBlock, false)
	idx, _ := t.searchLeaf(n, key)
	cnt := n.count()
	n.release()
	if idx >= cnt {
		nxt := n.next()
		if !nxt.Valid() {
			c.atEnd = true
			return c, nil
		}
		c.leaf, c.idx = nxt, 0
		return c, nil
	}
	c.leaf, c.idx = leafBlock, idx
	return c, nil
}

// insertIntoLeaf places value at slot idx in n, growing it, and fixes up
// any live cursors on that leaf.
func (t *Raw) insertIntoLeaf(block base.BlockIndex, n leaf, idx int, value []byte) {
	t.fixupInsert(block, idx)
	n.insertAt(idx, value)
}

// Insert adds value (keyed by Options.DeriveKey(value)) to the tree.
// inserted is false if a value with the same key already existed; under
// InsertMode Overwrite the existing value is replaced regardless.
func (t *Raw) Insert(value []byte, mode InsertMode) (inserted bool, err error) {
	if len(value) != t.opts.ValueSize {
		return false, base.BadArgumentf("btree: Insert: value has %d bytes, want %d", len(value), t.opts.ValueSize)
	}
	a := t.anchorH.Get()
	key := t.opts.DeriveKey(value)

	if a.Empty() {
		block, n, err := t.newLeaf()
		if err != nil {
			return false, err
		}
		n.insertAt(0, value)
		n.release()
		a.Root, a.Leftmost, a.Rightmost = block, block, block
		a.Height, a.Size, a.LeafNodes = 1, 1, 1
		t.anchorH.Set(t.engine, a)
		return true, nil
	}

	leafBlock, path, err := t.descend(key)
	if err != nil {
		return false, err
	}
	n := t.pinLeaf(leafBlock, false)
	idx, found := t.searchLeaf(n, key)
	if found {
		if mode == Overwrite {
			n.setValueAt(idx, value)
		}
		n.release()
		return false, nil
	}

	if n.count() < t.leafCapacity() {
		t.insertIntoLeaf(leafBlock, n, idx, value)
		n.release()
		a.Size++
		t.anchorH.Set(t.engine, a)
		return true, nil
	}

	// Leaf is full: split it, then promote the separator key up the path.
	if err := t.splitLeafAndInsert(leafBlock, n, idx, value, path); err != nil {
		return false, err
	}
	a = t.anchorH.Get()
	a.Size++
	t.anchorH.Set(t.engine, a)
	return true, nil
}

func (t *Raw) splitLeafAndInsert(leftBlock base.BlockIndex, left leaf, idx int, value []byte, path []pathEntry) error {
	c := left.count()
	merged := make([][]byte, 0, c+1)
	for i := 0; i < idx; i++ {
		merged = append(merged, append([]byte(nil), left.valueAt(i)...))
	}
	merged = append(merged, value)
	for i := idx; i < c; i++ {
		merged = append(merged, append([]byte(nil), left.valueAt(i)...))
	}

	mid := (len(merged) + 1) / 2
	rightBlock, right, err := t.newLeaf()
	if err != nil {
		return err
	}

	for i, v := range merged[:mid] {
		left.setValueAt(i, v)
	}
	left.setCount(mid)
	for i, v := range merged[mid:] {
		right.insertAt(i, v)
	}

	oldNext := left.next()
	right.setNext(oldNext)
	right.setPrev(leftBlock)
	left.setNext(rightBlock)
	if oldNext.Valid() {
		nn := t.pinLeaf(oldNext, false)
		nn.setPrev(rightBlock)
		nn.release()
	}

	a := t.anchorH.Get()
	if a.Rightmost == leftBlock {
		a.Rightmost = rightBlock
	}
	a.LeafNodes++
	t.anchorH.Set(t.engine, a)

	// mid is where the split happened in the *merged* (post-insert) array;
	// cursors were registered against pre-insert indices, so the fixup must
	// be applied relative to the final layout: every live cursor index was
	// already bumped by fixupInsert semantics only for future inserts, not
	// retroactively, so we reconcile directly here using the merged layout.
	t.fixupSplitAroundInsert(leftBlock, rightBlock, idx, mid)

	sepKey := t.opts.DeriveKey(right.valueAt(0))
	sepKeyCopy := append([]byte(nil), sepKey...)
	left.release()
	right.release()

	return t.insertSeparator(path, leftBlock, sepKeyCopy, rightBlock)
}

// fixupSplitAroundInsert adjusts live cursors given that a new value was
// conceptually inserted at pre-split index insertIdx in leftBlock, and the
// node was then split at mid (0-based index into the merged/post-insert
// array): entries [0, mid) stayed in leftBlock, [mid, end) moved to
// rightBlock.
func (t *Raw) fixupSplitAroundInsert(leftBlock, rightBlock base.BlockIndex, insertIdx, mid int) {
	for _, c := range t.cursors {
		if c.leaf != leftBlock {
			continue
		}
		postIdx := c.idx
		if postIdx >= insertIdx {
			postIdx++
		}
		if postIdx >= mid {
			c.leaf = rightBlock
			c.idx = postIdx - mid
		} else {
			c.idx = postIdx
		}
	}
}

// insertSeparator inserts (sepKey, rightChild) into the parent of
// leftChild, splitting and promoting up path as needed, creating a new
// root if the split propagates past the top of path.
func (t *Raw) insertSeparator(path []pathEntry, leftChild base.BlockIndex, sepKey []byte, rightChild base.BlockIndex) error {
	for level := len(path) - 1; level >= 0; level-- {
		parentBlock := path[level].block
		childIdx := path[level].idx
		pn := t.pinInternal(parentBlock, false)

		keys := insertKeyAt(pn.keys(), childIdx, sepKey)
		children := insertChildAt(pn.children(), childIdx+1, rightChild)

		if len(children) <= t.internalCapacity() {
			pn.rebuild(keys, children)
			pn.release()
			return nil
		}

		mid := len(children) / 2
		promote := append([]byte(nil), keys[mid-1]...)
		pn.rebuild(keys[:mid-1], children[:mid])
		pn.release()

		newBlock, rn, err := t.newInternal()
		if err != nil {
			return err
		}
		rn.rebuild(keys[mid:], children[mid:])
		rn.release()

		a := t.anchorH.Get()
		a.InternalNodes++
		t.anchorH.Set(t.engine, a)

		leftChild = parentBlock
		sepKey = promote
		rightChild = newBlock
	}

	// Propagated past the root: make a new one.
	a := t.anchorH.Get()
	newRootBlock, rn, err := t.newInternal()
	if err != nil {
		return err
	}
	rn.rebuild([][]byte{sepKey}, []base.BlockIndex{leftChild, rightChild})
	rn.release()
	a.Root = newRootBlock
	a.Height++
	a.InternalNodes++
	t.anchorH.Set(t.engine, a)
	return nil
}

func insertKeyAt(keys [][]byte, i int, k []byte) [][]byte {
	out := make([][]byte, 0, len(keys)+1)
	out = append(out, keys[:i]...)
	out = append(out, k)
	out = append(out, keys[i:]...)
	return out
}

func insertChildAt(children []base.BlockIndex, i int, c base.BlockIndex) []base.BlockIndex {
	out := make([]base.BlockIndex, 0, len(children)+1)
	out = append(out, children[:i]...)
	out = append(out, c)
	out = append(out, children[i:]...)
	return out
}

func removeAtIdx[S ~[]E, E any](s S, i int) S {
	out := make(S, 0, len(s)-1)
	out = append(out, s[:i]...)
	out = append(out, s[i+1:]...)
	return out
}

// Erase removes the entry with the given key, if present, rebalancing the
// tree (borrow-from-sibling, else merge) to keep every non-root node at
// least half full (spec §4.6).
func (t *Raw) Erase(key []byte) (erased bool, err error) {
	leafBlock, path, err := t.descend(key)
	if err != nil || !leafBlock.Valid() {
		return false, err
	}
	n := t.pinLeaf(leafBlock, false)
	idx, found := t.searchLeaf(n, key)
	if !found {
		n.release()
		return false, nil
	}

	t.fixupRemove(leafBlock, idx)
	n.removeAt(idx)
	a := t.anchorH.Get()
	a.Size--
	t.anchorH.Set(t.engine, a)

	if len(path) == 0 {
		empty := n.count() == 0
		n.release()
		if empty {
			// The root leaf lost its last entry: free it and reset the
			// anchor, so an emptied tree is Empty again.
			if err := t.alloc.Free(leafBlock, t.blockSize()); err != nil {
				return true, err
			}
			t.anchorH.Set(t.engine, Anchor{})
			for _, c := range t.cursors {
				c.atEnd = true
			}
		}
		return true, nil
	}
	minOcc := t.leafCapacity() / 2
	if n.count() >= minOcc {
		n.release()
		return true, nil
	}
	n.release()
	return true, t.rebalanceLeaf(leafBlock, path)
}

func (t *Raw) rebalanceLeaf(block base.BlockIndex, path []pathEntry) error {
	parentEntry := path[len(path)-1]
	pn := t.pinInternal(parentEntry.block, false)
	childIdx := parentEntry.idx
	children := pn.children()
	minOcc := t.leafCapacity() / 2

	n := t.pinLeaf(block, false)

	if childIdx > 0 {
		left := t.pinLeaf(children[childIdx-1], false)
		if left.count() > minOcc {
			borrowed := append([]byte(nil), left.valueAt(left.count()-1)...)
			t.fixupRemove(children[childIdx-1], left.count()-1)
			left.removeAt(left.count() - 1)
			t.fixupInsert(block, 0)
			n.insertAt(0, borrowed)
			pn.setKeyAt(childIdx-1, n.keyAt(0))
			left.release()
			n.release()
			pn.release()
			return nil
		}
		left.release()
	}

	if childIdx < len(children)-1 {
		right := t.pinLeaf(children[childIdx+1], false)
		if right.count() > minOcc {
			borrowed := append([]byte(nil), right.valueAt(0)...)
			t.fixupRemove(children[childIdx+1], 0)
			right.removeAt(0)
			n.insertAt(n.count(), borrowed)
			pn.setKeyAt(childIdx, right.keyAt(0))
			right.release()
			n.release()
			pn.release()
			return nil
		}
		// Merge right sibling into n.
		offset := n.count()
		rc := right.count()
		for i := 0; i < rc; i++ {
			n.insertAt(n.count(), right.valueAt(i))
		}
		t.fixupMerge(children[childIdx+1], block, offset)
		nxt := right.next()
		n.setNext(nxt)
		right.release()
		a := t.anchorH.Get()
		if nxt.Valid() {
			nn := t.pinLeaf(nxt, false)
			nn.setPrev(block)
			nn.release()
		} else {
			a.Rightmost = block
		}
		if err := t.alloc.Free(children[childIdx+1], t.blockSize()); err != nil {
			return err
		}
		a.LeafNodes--
		t.anchorH.Set(t.engine, a)

		keys := removeAtIdx(pn.keys(), childIdx)
		newChildren := removeAtIdx(pn.children(), childIdx+1)
		n.release()
		return t.shrinkInternal(pn, keys, newChildren, path[:len(path)-1])
	}

	// n is its parent's last child (no right sibling exists): merge into
	// the left sibling.
	leftBlock := children[childIdx-1]
	left := t.pinLeaf(leftBlock, false)
	offset := left.count()
	cnt := n.count()
	for i := 0; i < cnt; i++ {
		left.insertAt(left.count(), n.valueAt(i))
	}
	t.fixupMerge(block, leftBlock, offset)
	nxt := n.next()
	left.setNext(nxt)
	n.release()
	a := t.anchorH.Get()
	if nxt.Valid() {
		nn := t.pinLeaf(nxt, false)
		nn.setPrev(leftBlock)
		nn.release()
	} else {
		a.Rightmost = leftBlock
	}
	if err := t.alloc.Free(block, t.blockSize()); err != nil {
		return err
	}
	a.LeafNodes--
	t.anchorH.Set(t.engine, a)
	left.release()

	keys := removeAtIdx(pn.keys(), childIdx-1)
	newChildren := removeAtIdx(pn.children(), childIdx)
	return t.shrinkInternal(pn, keys, newChildren, path[:len(path)-1])
}

// shrinkInternal rewrites pn with one fewer child, freeing pn (and, if the
// tree's height collapses, promoting pn's sole remaining child to root)
// when it underflows, recursing up parentPath as needed.
func (t *Raw) shrinkInternal(pn internal, keys [][]byte, children []base.BlockIndex, parentPath []pathEntry) error {
	block := pn.bh.Index()
	if len(children) == 1 {
		// This node is left with a single child: it only ever happens at
		// the root, since any non-root internal node enforces a minimum
		// child count before reaching one. Collapse the tree by one level.
		a := t.anchorH.Get()
		sole := children[0]
		if err := t.alloc.Free(block, t.blockSize()); err != nil {
			pn.release()
			return err
		}
		a.Root = sole
		a.Height--
		a.InternalNodes--
		t.anchorH.Set(t.engine, a)
		pn.release()
		return nil
	}

	pn.rebuild(keys, children)
	if len(parentPath) == 0 {
		// pn is the root: internal roots are never forced to a minimum
		// occupancy beyond having at least 2 children.
		pn.release()
		return nil
	}

	minOcc := (t.internalCapacity() + 1) / 2
	if len(children) >= minOcc {
		pn.release()
		return nil
	}

	grandEntry := parentPath[len(parentPath)-1]
	gn := t.pinInternal(grandEntry.block, false)
	gChildIdx := grandEntry.idx
	gChildren := gn.children()

	if gChildIdx > 0 {
		left := t.pinInternal(gChildren[gChildIdx-1], false)
		if len(left.children()) > minOcc {
			lk, lc := left.keys(), left.children()
			borrowKey := append([]byte(nil), gn.keyAt(gChildIdx-1)...)
			borrowChild := lc[len(lc)-1]
			left.rebuild(lk[:len(lk)-1], lc[:len(lc)-1])
			newKeys := append([][]byte{borrowKey}, keys...)
			newChildren := append([]base.BlockIndex{borrowChild}, children...)
			pn.rebuild(newKeys, newChildren)
			gn.setKeyAt(gChildIdx-1, lk[len(lk)-1])
			left.release()
			pn.release()
			gn.release()
			return nil
		}
		left.release()
	}
	if gChildIdx < len(gChildren)-1 {
		right := t.pinInternal(gChildren[gChildIdx+1], false)
		rk, rc := right.keys(), right.children()
		if len(rc) > minOcc {
			borrowKey := append([]byte(nil), gn.keyAt(gChildIdx)...)
			borrowChild := rc[0]
			right.rebuild(rk[1:], rc[1:])
			newKeys := append(append([][]byte{}, keys...), append([]byte(nil), borrowKey...))
			newChildren := append(append([]base.BlockIndex{}, children...), borrowChild)
			pn.rebuild(newKeys, newChildren)
			gn.setKeyAt(gChildIdx, rk[0])
			right.release()
			pn.release()
			gn.release()
			return nil
		}
		// Merge right sibling into pn.
		sep := append([]byte(nil), gn.keyAt(gChildIdx)...)
		mergedKeys := append(append(append([][]byte{}, keys...), sep), rk...)
		mergedChildren := append(append([]base.BlockIndex{}, children...), rc...)
		pn.rebuild(mergedKeys, mergedChildren)
		rightBlock := right.bh.Index()
		right.release()
		if err := t.alloc.Free(rightBlock, t.blockSize()); err != nil {
			pn.release()
			gn.release()
			return err
		}
		a := t.anchorH.Get()
		a.InternalNodes--
		t.anchorH.Set(t.engine, a)
		pn.release()
		newGKeys := removeAtIdx(gn.keys(), gChildIdx)
		newGChildren := removeAtIdx(gn.children(), gChildIdx+1)
		return t.shrinkInternal(gn, newGKeys, newGChildren, parentPath[:len(parentPath)-1])
	}

	// Merge pn into its left sibling.
	leftBlock := gChildren[gChildIdx-1]
	left := t.pinInternal(leftBlock, false)
	lk, lc := left.keys(), left.children()
	sep := append([]byte(nil), gn.keyAt(gChildIdx-1)...)
	mergedKeys := append(append(append([][]byte{}, lk...), sep), keys...)
	mergedChildren := append(append([]base.BlockIndex{}, lc...), children...)
	left.rebuild(mergedKeys, mergedChildren)
	left.release()
	pnBlock := pn.bh.Index()
	pn.release()
	if err := t.alloc.Free(pnBlock, t.blockSize()); err != nil {
		gn.release()
		return err
	}
	a := t.anchorH.Get()
	a.InternalNodes--
	t.anchorH.Set(t.engine, a)
	newGKeys := removeAtIdx(gn.keys(), gChildIdx-1)
	newGChildren := removeAtIdx(gn.children(), gChildIdx)
	return t.shrinkInternal(gn, newGKeys, newGChildren, parentPath[:len(parentPath)-1])
}

// Clear empties the tree, freeing every block it owns, leaving the anchor
// reset to its zero value.
func (t *Raw) Clear() error {
	a := t.anchorH.Get()
	if a.Empty() {
		return nil
	}
	if err := t.clearSubtree(a.Root, a.Height); err != nil {
		return err
	}
	t.anchorH.Set(t.engine, Anchor{})
	for _, c := range t.cursors {
		c.atEnd = true
	}
	return nil
}

func (t *Raw) clearSubtree(block base.BlockIndex, height uint64) error {
	if height > 1 {
		n := t.pinInternal(block, false)
		children := n.children()
		n.release()
		for _, c := range children {
			if err := t.clearSubtree(c, height-1); err != nil {
				return err
			}
		}
	}
	return t.alloc.Free(block, t.blockSize())
}
