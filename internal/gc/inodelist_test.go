package gc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInode struct {
	ino Ino
}

func (i *fakeInode) Ino() Ino       { return i.ino }
func (i *fakeInode) Encrypted() bool { return false }
func (i *fakeInode) IsRegular() bool { return true }
func (i *fakeInode) UpdateExtentCache(startBidx uint64, addr BlkAddr) {}

type fakeNodeManagerForInodeList struct {
	puts []Ino
}

func (f *fakeNodeManagerForInodeList) GetNodePage(ctx context.Context, nid NID) (NodePage, error) {
	return nil, nil
}
func (f *fakeNodeManagerForInodeList) RaNodePage(ctx context.Context, nid NID) {}
func (f *fakeNodeManagerForInodeList) GetNodeInfo(ctx context.Context, nid NID) (NATEntry, error) {
	return NATEntry{}, nil
}
func (f *fakeNodeManagerForInodeList) PutPage(p NodePage) {}
func (f *fakeNodeManagerForInodeList) Iget(ctx context.Context, ino Ino) (Inode, error) {
	return nil, nil
}
func (f *fakeNodeManagerForInodeList) PutInode(i Inode) {
	f.puts = append(f.puts, i.(*fakeInode).ino)
}

func TestInodeList_AddOrDedup_NoDoublePin(t *testing.T) {
	nm := &fakeNodeManagerForInodeList{}
	l := newInodeList(nm)
	ctx := context.Background()

	a1 := &fakeInode{ino: 10}
	a2 := &fakeInode{ino: 10} // a second, freshly-acquired reference to the same ino

	got1 := l.addOrDedup(ctx, a1)
	got2 := l.addOrDedup(ctx, a2)

	assert.Same(t, a1, got1)
	assert.Same(t, a1, got2, "second add for the same ino must return the first pinned reference")
	assert.Equal(t, 1, l.len())
	require.Len(t, nm.puts, 1, "the redundant second reference must be released immediately")
	assert.Equal(t, Ino(10), nm.puts[0])
}

func TestInodeList_ReleaseAll_Completeness(t *testing.T) {
	nm := &fakeNodeManagerForInodeList{}
	l := newInodeList(nm)
	ctx := context.Background()

	l.addOrDedup(ctx, &fakeInode{ino: 1})
	l.addOrDedup(ctx, &fakeInode{ino: 2})
	l.addOrDedup(ctx, &fakeInode{ino: 3})

	l.releaseAll()

	assert.Equal(t, 0, l.len())
	assert.ElementsMatch(t, []Ino{1, 2, 3}, nm.puts)

	// Releasing again must be a no-op, not a double-release.
	l.releaseAll()
	assert.ElementsMatch(t, []Ino{1, 2, 3}, nm.puts)
}
