package btree

import "github.com/prequeldb/prequel/internal/base"

// Cursor iterates a tree's values in key order. Per spec §9's design note,
// a cursor does not hold a root-to-leaf path: it only remembers its leaf
// block and slot index, and follows the leaf chain (leaf.prev/leaf.next)
// to move. Lookups (Find/LowerBound/UpperBound) always re-descend from the
// root to build a fresh cursor; only structural leaf-level changes made by
// Insert/Erase need to adjust any *live* cursor, which they do by walking
// the tree's cursor registry.
type Cursor struct {
	t       *Raw
	id      int
	leaf    base.BlockIndex
	idx     int
	erased  bool
	atEnd   bool
	atStart bool
}

// Close releases the cursor, unregistering it from structural fixups.
func (c *Cursor) Close() {
	if c.t != nil {
		c.t.unregisterCursor(c.id)
		c.t = nil
	}
}

// Valid reports whether the cursor currently refers to a live entry.
func (c *Cursor) Valid() bool {
	return c.t != nil && !c.erased && !c.atEnd && !c.atStart
}

// Value returns the entry the cursor currently refers to. Panics if the
// cursor is not Valid.
func (c *Cursor) Value() []byte {
	if !c.Valid() {
		panic("btree: Value called on an invalid cursor")
	}
	n := c.t.pinLeaf(c.leaf, false)
	defer n.release()
	return append([]byte(nil), n.valueAt(c.idx)...)
}

// Next advances the cursor to the next entry in key order. If the entry the
// cursor sat on was erased, idx was left pointing at whatever fixupRemove's
// left-shift put in that slot — the erased entry's successor, or (if the
// erased entry was its leaf's last slot) one past the leaf's new end, which
// must roll onto leaf.next() exactly like walking off real data would.
func (c *Cursor) Next() error {
	if c.t == nil {
		return base.BadOperationf("btree: Next on a closed cursor")
	}
	if c.atStart && !c.erased {
		c.atStart = false
		return nil
	}

	n := c.t.pinLeaf(c.leaf, false)
	target := c.idx
	if !c.erased {
		target++
	}
	c.erased, c.atStart = false, false
	if target < n.count() {
		c.idx = target
		n.release()
		return nil
	}
	next := n.next()
	n.release()
	if !next.Valid() {
		c.atEnd = true
		return nil
	}
	c.leaf, c.idx = next, 0
	return nil
}

// Prev moves the cursor to the previous entry in key order. Unlike Next,
// an erased entry's predecessor always sits at idx-1 regardless of
// whether the erasure happened: fixupRemove's left-shift only ever moves
// entries after the erased slot, so idx-1 is untouched either way.
func (c *Cursor) Prev() error {
	if c.t == nil {
		return base.BadOperationf("btree: Prev on a closed cursor")
	}
	if c.atEnd && !c.erased {
		// atEnd reached by Next() walking off real data: leaf/idx already
		// point at the last live entry.
		c.atEnd = false
		return nil
	}
	c.erased, c.atEnd = false, false
	if c.idx > 0 {
		c.idx--
		return nil
	}
	n := c.t.pinLeaf(c.leaf, false)
	prev := n.prev()
	n.release()
	if !prev.Valid() {
		c.atStart = true
		return nil
	}
	pn := c.t.pinLeaf(prev, false)
	c.leaf, c.idx = prev, pn.count()-1
	pn.release()
	return nil
}

func (t *Raw) registerCursor(c *Cursor) {
	if t.cursors == nil {
		t.cursors = make(map[int]*Cursor)
	}
	t.nextCursorID++
	c.id = t.nextCursorID
	c.t = t
	t.cursors[c.id] = c
}

func (t *Raw) unregisterCursor(id int) {
	delete(t.cursors, id)
}

// fixupInsert adjusts live cursors after a value was inserted into leafBlock
// at slot atIdx, shifting everything at or after atIdx right by one.
func (t *Raw) fixupInsert(leafBlock base.BlockIndex, atIdx int) {
	for _, c := range t.cursors {
		if c.leaf == leafBlock && !c.erased && c.idx >= atIdx {
			c.idx++
		}
	}
}

// fixupRemove adjusts live cursors after the value at slot atIdx was
// removed from leafBlock: cursors on the removed slot are marked erased
// (Valid becomes false until Next/Prev moves them off it); cursors after
// it shift left by one.
func (t *Raw) fixupRemove(leafBlock base.BlockIndex, atIdx int) {
	for _, c := range t.cursors {
		if c.leaf != leafBlock {
			continue
		}
		switch {
		case c.idx == atIdx:
			c.erased = true
		case c.idx > atIdx:
			c.idx--
		}
	}
}

// fixupMerge retargets every cursor on fromLeaf (which is being freed) to
// toLeaf, offsetting idx by +offset (the number of entries toLeaf already
// held before the merge).
func (t *Raw) fixupMerge(fromLeaf, toLeaf base.BlockIndex, offset int) {
	for _, c := range t.cursors {
		if c.leaf == fromLeaf {
			c.leaf = toLeaf
			c.idx += offset
		}
	}
}
