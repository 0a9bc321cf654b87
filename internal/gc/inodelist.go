package gc

import "context"

// inodeList is the GC inode list of §3: a map for O(1) insert-uniqueness
// paired with an ordered slice for deterministic release order. Per §9 the
// two collections are independent and share keys rather than one being
// derived from the other at cleanup time -- releaseAll walks the slice
// (release order) and looks each entry up in the map, rather than ranging
// over the map directly.
//
// Lifetime is exactly one f2fs_gc call (§3): a fresh inodeList is built at
// the top of Orchestrator.runLocked and fully drained by releaseAll before
// it returns, satisfying the "release completeness" property (§8.3).
type inodeList struct {
	nodes NodeManager

	m     map[Ino]Inode
	order []Ino
}

func newInodeList(nodes NodeManager) *inodeList {
	return &inodeList{nodes: nodes, m: make(map[Ino]Inode)}
}

// addOrDedup pins ino exactly once (§8.2, "no double-pin"). If the inode
// was already pinned this call, the freshly acquired reference is released
// immediately and the existing one is returned.
func (l *inodeList) addOrDedup(ctx context.Context, i Inode) Inode {
	ino := i.Ino()
	if existing, ok := l.m[ino]; ok {
		l.nodes.PutInode(i)
		return existing
	}
	l.m[ino] = i
	l.order = append(l.order, ino)
	return i
}

// get looks up an already-pinned inode by number.
func (l *inodeList) get(ino Ino) (Inode, bool) {
	i, ok := l.m[ino]
	return i, ok
}

// len reports how many distinct inodes are currently pinned.
func (l *inodeList) len() int { return len(l.order) }

// releaseAll puts every pinned inode exactly once, in insertion order, and
// empties both collections (§8.3, "release completeness").
func (l *inodeList) releaseAll() {
	for _, ino := range l.order {
		if i, ok := l.m[ino]; ok {
			l.nodes.PutInode(i)
		}
		delete(l.m, ino)
	}
	l.order = l.order[:0]
}
