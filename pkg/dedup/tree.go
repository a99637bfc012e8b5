// Copyright 2021 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dedup

import "sync"

// tree.go implements the red-black search tree spec.md §4.4 requires
// for both the stable and unstable trees. No ordered-tree library
// appears anywhere in the retrieval pack (see DESIGN.md), so this is
// hand rolled: classic CLRS red-black insert/delete with parent
// pointers, plus the "tolerate stale entries, unlink and restart from
// root" search discipline spec.md calls out explicitly.

type color bool

const (
	red   color = true
	black color = false
)

type treeNode struct {
	desc                *Descriptor
	left, right, parent *treeNode
	color               color
}

// CompareFunc orders a candidate descriptor against an existing tree
// node's descriptor. Negative means candidate sorts before node,
// positive after, zero means "same key" (content mode: exact content
// equality; hash mode: checksum equality, pending separate content
// verification by the caller).
type CompareFunc func(node *Descriptor) int

// rbTree is a red-black tree over *Descriptor, single-writer by
// construction (only the scanner mutates it -- spec.md §5), guarded by
// a mutex anyway since Registry/stats readers may walk sizes
// concurrently and descriptors carry a stale pointer back to their
// node that outside code must never dereference without it.
type rbTree struct {
	mu   sync.Mutex
	root *treeNode
	size int
}

func newRBTree() *rbTree {
	return &rbTree{}
}

func (t *rbTree) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// All returns every live descriptor currently in the tree, in-order.
// Used by the checksum-refresh pass (spec.md §4.5), which needs to
// walk the whole unstable tree periodically; stale nodes are skipped
// rather than pruned here since a read-only walk must not mutate the
// tree out from under a concurrent Find.
func (t *rbTree) All() []*Descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Descriptor, 0, t.size)
	var walk func(n *treeNode)
	walk = func(n *treeNode) {
		if n == nil {
			return
		}
		walk(n.left)
		if !isStale(n) {
			out = append(out, n.desc)
		}
		walk(n.right)
	}
	walk(t.root)
	return out
}

// isStale reports whether a node's descriptor should be pruned on
// sight during a walk: spec.md §4.4 "if the visited descriptor has
// DELETED set or its page back-pointer is null, unlink it and restart
// the walk from the root."
func isStale(n *treeNode) bool {
	return n.desc.HasFlag(FlagDeleted) || n.desc.Page == 0
}

// Find walks the tree applying cmp at each node. Whenever it meets a
// stale node it unlinks that node and restarts from the root, exactly
// as spec.md §4.4 and testable property S6 require; it never panics on
// a stale node, it just keeps going. Returns the matching node (cmp
// returned 0) or nil if none exists, plus the last internal node
// visited (useful as an insertion parent when nil is returned).
func (t *rbTree) Find(cmp CompareFunc) (match *treeNode, parent *treeNode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.findLocked(cmp)
}

func (t *rbTree) findLocked(cmp CompareFunc) (*treeNode, *treeNode) {
restart:
	n := t.root
	var parent *treeNode
	for n != nil {
		if isStale(n) {
			t.removeLocked(n)
			goto restart
		}
		c := cmp(n.desc)
		switch {
		case c == 0:
			return n, parent
		case c < 0:
			parent = n
			n = n.left
		default:
			parent = n
			n = n.right
		}
	}
	return nil, parent
}

// Insert places desc into the tree ordered by cmp (which must be
// consistent with Find's cmp for the same key), assuming no matching
// node exists -- callers are expected to Find first.
func (t *rbTree) Insert(desc *Descriptor, cmp CompareFunc) *treeNode {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := &treeNode{desc: desc, color: red}
	if t.root == nil {
		n.color = black
		t.root = n
		desc.node = n
		t.size++
		return n
	}

	_, parent := t.findLocked(cmp)
	if parent == nil {
		// tree became empty due to stale pruning during the walk
		n.color = black
		t.root = n
		desc.node = n
		t.size++
		return n
	}
	n.parent = parent
	if cmp(parent.desc) < 0 {
		parent.left = n
	} else {
		parent.right = n
	}
	desc.node = n
	t.size++
	t.insertFixup(n)
	return n
}

// Remove detaches desc's node from whichever tree currently holds it.
// A no-op if desc is not currently in this tree.
func (t *rbTree) Remove(desc *Descriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := desc.node
	if n == nil {
		return
	}
	top := n
	for top.parent != nil {
		top = top.parent
	}
	if top != t.root {
		return
	}
	t.removeLocked(n)
}

func (t *rbTree) removeLocked(n *treeNode) {
	n.desc.node = nil
	t.size--

	if n.left != nil && n.right != nil {
		succ := minimum(n.right)
		n.desc = succ.desc
		n.desc.node = n
		n = succ
	}

	var child *treeNode
	if n.left != nil {
		child = n.left
	} else {
		child = n.right
	}

	if child != nil {
		t.transplant(n, child)
		if n.color == black {
			t.deleteFixup(child, n.parent)
		}
	} else if n.parent == nil {
		t.root = nil
	} else {
		t.detach(n)
		if n.color == black {
			t.deleteFixup(nil, n.parent)
		}
	}
}

func (t *rbTree) detach(n *treeNode) {
	if n.parent == nil {
		t.root = nil
		return
	}
	if n.parent.left == n {
		n.parent.left = nil
	} else {
		n.parent.right = nil
	}
}

func (t *rbTree) transplant(u, v *treeNode) {
	if u.parent == nil {
		t.root = v
	} else if u.parent.left == u {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	if v != nil {
		v.parent = u.parent
	}
}

func minimum(n *treeNode) *treeNode {
	for n.left != nil {
		n = n.left
	}
	return n
}

func nodeColor(n *treeNode) color {
	if n == nil {
		return black
	}
	return n.color
}

func (t *rbTree) rotateLeft(x *treeNode) {
	y := x.right
	x.right = y.left
	if y.left != nil {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *rbTree) rotateRight(x *treeNode) {
	y := x.left
	x.left = y.right
	if y.right != nil {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		t.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

func (t *rbTree) insertFixup(z *treeNode) {
	for z.parent != nil && z.parent.color == red {
		gp := z.parent.parent
		if gp == nil {
			break
		}
		if z.parent == gp.left {
			y := gp.right
			if nodeColor(y) == red {
				z.parent.color = black
				y.color = black
				gp.color = red
				z = gp
				continue
			}
			if z == z.parent.right {
				z = z.parent
				t.rotateLeft(z)
			}
			z.parent.color = black
			gp.color = red
			t.rotateRight(gp)
		} else {
			y := gp.left
			if nodeColor(y) == red {
				z.parent.color = black
				y.color = black
				gp.color = red
				z = gp
				continue
			}
			if z == z.parent.left {
				z = z.parent
				t.rotateRight(z)
			}
			z.parent.color = black
			gp.color = red
			t.rotateLeft(gp)
		}
	}
	t.root.color = black
}

// deleteFixup restores red-black invariants after removing a black
// node. x may be nil (a removed leaf); parent identifies where x hangs
// since a nil node carries no parent pointer of its own.
func (t *rbTree) deleteFixup(x, parent *treeNode) {
	for x != t.root && nodeColor(x) == black && parent != nil {
		if x == parent.left {
			w := parent.right
			if nodeColor(w) == red {
				w.color = black
				parent.color = red
				t.rotateLeft(parent)
				w = parent.right
			}
			if w == nil {
				x = parent
				parent = x.parent
				continue
			}
			if nodeColor(w.left) == black && nodeColor(w.right) == black {
				w.color = red
				x = parent
				parent = x.parent
				continue
			}
			if nodeColor(w.right) == black {
				if w.left != nil {
					w.left.color = black
				}
				w.color = red
				t.rotateRight(w)
				w = parent.right
			}
			w.color = parent.color
			parent.color = black
			if w.right != nil {
				w.right.color = black
			}
			t.rotateLeft(parent)
			x = t.root
			parent = nil
		} else {
			w := parent.left
			if nodeColor(w) == red {
				w.color = black
				parent.color = red
				t.rotateRight(parent)
				w = parent.left
			}
			if w == nil {
				x = parent
				parent = x.parent
				continue
			}
			if nodeColor(w.right) == black && nodeColor(w.left) == black {
				w.color = red
				x = parent
				parent = x.parent
				continue
			}
			if nodeColor(w.left) == black {
				if w.right != nil {
					w.right.color = black
				}
				w.color = red
				t.rotateLeft(w)
				w = parent.left
			}
			w.color = parent.color
			parent.color = black
			if w.left != nil {
				w.left.color = black
			}
			t.rotateRight(parent)
			x = t.root
			parent = nil
		}
	}
	if x != nil {
		x.color = black
	}
}
