package btree

import "github.com/prequeldb/prequel/internal/base"

// Loader bulk-builds a tree from values presented in ascending key order,
// filling leaves densely instead of paying the incremental split cost of
// repeated Insert calls (spec §4.6's bulk_load). The tree must be empty
// when the loader is created and must not be touched until Finish or
// Discard is called.
type Loader struct {
	t       *Raw
	pending [][]byte
	err     error
}

// NewLoader begins a bulk load on t, which must currently be empty.
func NewLoader(t *Raw) (*Loader, error) {
	if !t.Empty() {
		return nil, base.BadOperationf("btree: bulk load requires an empty tree")
	}
	return &Loader{t: t}, nil
}

// Add appends value to the load. Values must be supplied in ascending
// key order; this is not checked (violating it produces a tree that
// silently fails to maintain its ordering invariant).
func (l *Loader) Add(value []byte) {
	if l.err != nil {
		return
	}
	l.pending = append(l.pending, append([]byte(nil), value...))
}

// Discard abandons the load, freeing nothing since no blocks have been
// allocated yet (everything was buffered in memory).
func (l *Loader) Discard() { l.pending = nil }

// Finish builds the tree's leaf level densely packed and then builds each
// internal level bottom-up from the previous level's block boundaries.
func (l *Loader) Finish() error {
	if l.err != nil {
		return l.err
	}
	t := l.t
	if len(l.pending) == 0 {
		return nil
	}
	cap := t.leafCapacity()

	var leafBlocks []base.BlockIndex
	var firstKeys [][]byte
	var prevBlock base.BlockIndex = base.InvalidBlock

	for i := 0; i < len(l.pending); i += cap {
		end := i + cap
		if end > len(l.pending) {
			end = len(l.pending)
		}
		block, n, err := t.newLeaf()
		if err != nil {
			return err
		}
		for j, v := range l.pending[i:end] {
			n.insertAt(j, v)
		}
		n.setPrev(prevBlock)
		if prevBlock.Valid() {
			pn := t.pinLeaf(prevBlock, false)
			pn.setNext(block)
			pn.release()
		}
		n.release()
		leafBlocks = append(leafBlocks, block)
		firstKeys = append(firstKeys, t.opts.DeriveKey(l.pending[i]))
		prevBlock = block
	}

	a := t.anchorH.Get()
	a.Leftmost = leafBlocks[0]
	a.Rightmost = leafBlocks[len(leafBlocks)-1]
	a.Size = uint64(len(l.pending))
	a.LeafNodes = uint64(len(leafBlocks))
	a.Height = 1

	levelBlocks := leafBlocks
	levelKeys := firstKeys[1:] // separator for child i+1 is its first key
	for len(levelBlocks) > 1 {
		icap := t.internalCapacity()
		var nextBlocks []base.BlockIndex
		var nextFirstSeparators [][]byte
		pos := 0
		for pos < len(levelBlocks) {
			childCount := icap
			if pos+childCount > len(levelBlocks) {
				childCount = len(levelBlocks) - pos
			}
			children := append([]base.BlockIndex(nil), levelBlocks[pos:pos+childCount]...)
			var keys [][]byte
			if childCount > 1 {
				keys = append([][]byte(nil), levelKeys[pos:pos+childCount-1]...)
			}
			block, n, err := t.newInternal()
			if err != nil {
				return err
			}
			n.rebuild(keys, children)
			n.release()
			nextBlocks = append(nextBlocks, block)
			if pos > 0 {
				nextFirstSeparators = append(nextFirstSeparators, levelKeys[pos-1])
			}
			a.InternalNodes++
			pos += childCount
		}
		levelBlocks = nextBlocks
		levelKeys = nextFirstSeparators
		a.Height++
	}
	a.Root = levelBlocks[0]
	t.anchorH.Set(t.engine, a)
	l.pending = nil
	return nil
}
