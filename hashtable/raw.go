package hashtable

import (
	"github.com/prequeldb/prequel/handle"
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/pager"
)

// Raw is the untyped linear-hash table.
type Raw struct {
	engine  *pager.Engine
	alloc   Allocator
	opts    Options
	anchorH handle.Handle[Anchor]
}

// NewRaw attaches a raw table to an already-initialized anchor.
func NewRaw(engine *pager.Engine, alloc Allocator, opts Options, anchorH handle.Handle[Anchor]) *Raw {
	return &Raw{engine: engine, alloc: alloc, opts: opts, anchorH: anchorH}
}

func (t *Raw) Anchor() Anchor { return t.anchorH.Get() }
func (t *Raw) Size() uint64   { return t.anchorH.Get().Size }
func (t *Raw) Empty() bool    { return t.anchorH.Get().Empty() }

func (t *Raw) blockSize() int { return int(t.engine.BlockSize()) }

func (t *Raw) pinBucket(b base.BlockIndex, initialize bool) bucket {
	bh, err := t.engine.Pin(b, initialize)
	if err != nil {
		panic(err)
	}
	return bucket{t, bh}
}

// blockForBucket maps a logical bucket number to its block index via the
// chunk table (spec §4.7's "bucket_ranges").
func (t *Raw) blockForBucket(a Anchor, b uint64) base.BlockIndex {
	remaining := b
	for i := 0; i < int(a.NumChunks); i++ {
		if remaining < a.ChunkSize[i] {
			return a.ChunkFirst[i] + base.BlockIndex(remaining)
		}
		remaining -= a.ChunkSize[i]
	}
	panic("hashtable: bucket index out of allocated range")
}

// ensureCapacity grows the bucket_ranges chunk list, doubling, until
// PrimaryBuckets > b.
func (t *Raw) ensureCapacity(b uint64) error {
	a := t.anchorH.Get()
	for a.PrimaryBuckets <= b {
		size := a.PrimaryBuckets
		if size == 0 {
			size = 1
		}
		if a.NumChunks >= maxChunks {
			return base.BadOperationf("hashtable: exceeded maximum chunk count")
		}
		first, err := t.alloc.AllocateRun(int(size), t.blockSize())
		if err != nil {
			return err
		}
		for j := uint64(0); j < size; j++ {
			n := t.pinBucket(first+base.BlockIndex(j), true)
			n.init()
			n.release()
		}
		a.ChunkFirst[a.NumChunks] = first
		a.ChunkSize[a.NumChunks] = size
		a.NumChunks++
		a.PrimaryBuckets += size
	}
	t.anchorH.Set(t.engine, a)
	return nil
}

// bucketIndexFor applies the linear-hashing address rule (spec §3.7/§4.7):
// b = hash(k) mod 2^level; if b has already been split this round
// (b < step), recompute with 2^(level+1).
func (t *Raw) bucketIndexFor(a Anchor, key []byte) uint64 {
	mod := uint64(1) << a.Level
	h := t.opts.KeyHash(key)
	b := h % mod
	if b < a.Step {
		b = h % (mod << 1)
	}
	return b
}

// Find looks up the value whose derived key equals key.
func (t *Raw) Find(key []byte) (value []byte, found bool, err error) {
	a := t.anchorH.Get()
	if a.PrimaryBuckets == 0 {
		return nil, false, nil
	}
	block := t.blockForBucket(a, t.bucketIndexFor(a, key))
	for block.Valid() {
		n := t.pinBucket(block, false)
		c := n.count()
		for i := 0; i < c; i++ {
			if t.opts.KeyEqual(t.opts.DeriveKey(n.valueAt(i)), key) {
				v := append([]byte(nil), n.valueAt(i)...)
				n.release()
				return v, true, nil
			}
		}
		next := n.overflowNext()
		n.release()
		block = next
	}
	return nil, false, nil
}

// Insert adds value, keyed by Options.DeriveKey(value).
func (t *Raw) Insert(value []byte, mode InsertMode) (inserted bool, err error) {
	if len(value) != t.opts.ValueSize {
		return false, base.BadArgumentf("hashtable: Insert: value has %d bytes, want %d", len(value), t.opts.ValueSize)
	}
	key := t.opts.DeriveKey(value)
	a := t.anchorH.Get()
	if a.PrimaryBuckets == 0 {
		if err := t.ensureCapacity(0); err != nil {
			return false, err
		}
		a = t.anchorH.Get()
	}
	block := t.blockForBucket(a, t.bucketIndexFor(a, key))

	lastBlock := base.InvalidBlock
	for block.Valid() {
		n := t.pinBucket(block, false)
		c := n.count()
		for i := 0; i < c; i++ {
			if t.opts.KeyEqual(t.opts.DeriveKey(n.valueAt(i)), key) {
				if mode == Overwrite {
					n.setValueAt(i, value)
				}
				n.release()
				return false, nil
			}
		}
		if c < t.bucketCapacity() {
			n.append(value)
			n.release()
			a.Size++
			t.anchorH.Set(t.engine, a)
			return true, t.maybeSplit()
		}
		lastBlock = block
		next := n.overflowNext()
		n.release()
		block = next
	}

	newBlock, err := t.alloc.Allocate(t.blockSize())
	if err != nil {
		return false, err
	}
	nb := t.pinBucket(newBlock, true)
	nb.init()
	nb.append(value)
	nb.release()

	lb := t.pinBucket(lastBlock, false)
	lb.setOverflowNext(newBlock)
	lb.release()

	a.Size++
	a.OverflowBuckets++
	t.anchorH.Set(t.engine, a)
	return true, t.maybeSplit()
}

// maybeSplit performs one linear-hashing split step if the load factor
// threshold is exceeded (spec §4.7).
func (t *Raw) maybeSplit() error {
	a := t.anchorH.Get()
	if a.PrimaryBuckets == 0 {
		return nil
	}
	threshold := (a.PrimaryBuckets * uint64(t.bucketCapacity()) * 3) / 4
	if a.Size <= threshold {
		return nil
	}
	return t.splitStep()
}

// splitStep redistributes the bucket at index step between itself and the
// new bucket at step+2^level, then advances step/level (spec §4.7).
func (t *Raw) splitStep() error {
	a := t.anchorH.Get()
	oldIdx := a.Step
	newIdx := a.Step + (uint64(1) << a.Level)

	if err := t.ensureCapacity(newIdx); err != nil {
		return err
	}
	a = t.anchorH.Get()

	oldBlock := t.blockForBucket(a, oldIdx)
	newBlock := t.blockForBucket(a, newIdx)

	entries, overflow, err := t.collectChain(oldBlock)
	if err != nil {
		return err
	}

	on := t.pinBucket(oldBlock, false)
	on.setCount(0)
	on.setOverflowNext(base.InvalidBlock)
	on.release()

	levelMod := uint64(1) << (a.Level + 1)
	for _, v := range entries {
		h := t.opts.KeyHash(t.opts.DeriveKey(v))
		target := oldBlock
		if h%levelMod != oldIdx {
			target = newBlock
		}
		if err := t.placeInChain(target, v); err != nil {
			return err
		}
	}

	for _, ov := range overflow {
		if err := t.alloc.Free(ov, t.blockSize()); err != nil {
			return err
		}
		a.OverflowBuckets--
	}

	a.Step++
	if a.Step == (uint64(1) << a.Level) {
		a.Level++
		a.Step = 0
	}
	t.anchorH.Set(t.engine, a)
	return nil
}

// collectChain reads every value in the chain rooted at block and returns
// them along with the list of overflow block indices in the chain (not
// including the root, which is a primary bucket and stays allocated).
func (t *Raw) collectChain(block base.BlockIndex) (values [][]byte, overflow []base.BlockIndex, err error) {
	first := true
	for block.Valid() {
		n := t.pinBucket(block, false)
		c := n.count()
		for i := 0; i < c; i++ {
			values = append(values, append([]byte(nil), n.valueAt(i)...))
		}
		next := n.overflowNext()
		cur := block
		n.release()
		if !first {
			overflow = append(overflow, cur)
		}
		first = false
		block = next
	}
	return values, overflow, nil
}

// placeInChain appends v to the first node in root's chain with spare
// capacity, allocating a fresh overflow node if none has room. Used only
// during splitStep, where recursive maybeSplit would be wrong (the table
// is mid-split already).
func (t *Raw) placeInChain(root base.BlockIndex, v []byte) error {
	block := root
	lastBlock := base.InvalidBlock
	for block.Valid() {
		n := t.pinBucket(block, false)
		if n.count() < t.bucketCapacity() {
			n.append(v)
			n.release()
			return nil
		}
		lastBlock = block
		next := n.overflowNext()
		n.release()
		block = next
	}
	newBlock, err := t.alloc.Allocate(t.blockSize())
	if err != nil {
		return err
	}
	nb := t.pinBucket(newBlock, true)
	nb.init()
	nb.append(v)
	nb.release()
	lb := t.pinBucket(lastBlock, false)
	lb.setOverflowNext(newBlock)
	lb.release()
	a := t.anchorH.Get()
	a.OverflowBuckets++
	t.anchorH.Set(t.engine, a)
	return nil
}

// Erase removes the entry with the given key, if present, filling the
// vacated slot with the last entry of the chain's last node (spec §4.7).
func (t *Raw) Erase(key []byte) (erased bool, err error) {
	a := t.anchorH.Get()
	if a.PrimaryBuckets == 0 {
		return false, nil
	}
	root := t.blockForBucket(a, t.bucketIndexFor(a, key))

	var chain []base.BlockIndex
	targetBlock := base.InvalidBlock
	targetIdx := -1
	block := root
	for block.Valid() {
		chain = append(chain, block)
		n := t.pinBucket(block, false)
		c := n.count()
		if targetIdx < 0 {
			for i := 0; i < c; i++ {
				if t.opts.KeyEqual(t.opts.DeriveKey(n.valueAt(i)), key) {
					targetBlock, targetIdx = block, i
					break
				}
			}
		}
		next := n.overflowNext()
		n.release()
		block = next
	}
	if targetIdx < 0 {
		return false, nil
	}

	lastBlock := chain[len(chain)-1]
	ln := t.pinBucket(lastBlock, false)
	lastCount := ln.count()
	lastValue := append([]byte(nil), ln.valueAt(lastCount-1)...)
	ln.setCount(lastCount - 1)
	lastBecameEmpty := lastCount-1 == 0
	ln.release()

	if !(targetBlock == lastBlock && targetIdx == lastCount-1) {
		tn := t.pinBucket(targetBlock, false)
		tn.setValueAt(targetIdx, lastValue)
		tn.release()
	}

	if len(chain) > 1 && lastBecameEmpty {
		prevBlock := chain[len(chain)-2]
		pn := t.pinBucket(prevBlock, false)
		pn.setOverflowNext(base.InvalidBlock)
		pn.release()
		if err := t.alloc.Free(lastBlock, t.blockSize()); err != nil {
			return false, err
		}
		a.OverflowBuckets--
	}

	a.Size--
	t.anchorH.Set(t.engine, a)
	return true, nil
}

// Validate rebuilds the total live-entry count by full traversal and
// cross-checks it against the anchor's Size (spec §4.7).
func (t *Raw) Validate() error {
	a := t.anchorH.Get()
	var total uint64
	for b := uint64(0); b < a.PrimaryBuckets; b++ {
		block := t.blockForBucket(a, b)
		for block.Valid() {
			n := t.pinBucket(block, false)
			total += uint64(n.count())
			next := n.overflowNext()
			n.release()
			block = next
		}
	}
	if total != a.Size {
		return base.CorruptionErrorf("hashtable: traversal found %d entries, anchor says %d", total, a.Size)
	}
	return nil
}

// Clear frees every block the table owns and resets the anchor.
func (t *Raw) Clear() error {
	a := t.anchorH.Get()
	for i := 0; i < int(a.NumChunks); i++ {
		for j := uint64(0); j < a.ChunkSize[i]; j++ {
			block := a.ChunkFirst[i] + base.BlockIndex(j)
			n := t.pinBucket(block, false)
			next := n.overflowNext()
			n.release()
			for next.Valid() {
				nn := t.pinBucket(next, false)
				after := nn.overflowNext()
				nn.release()
				if err := t.alloc.Free(next, t.blockSize()); err != nil {
					return err
				}
				next = after
			}
		}
		if err := t.alloc.FreeRun(a.ChunkFirst[i], int(a.ChunkSize[i]), t.blockSize()); err != nil {
			return err
		}
	}
	t.anchorH.Set(t.engine, Anchor{})
	return nil
}
