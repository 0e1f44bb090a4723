package graph

import (
	"io/fs"
	"testing"
)

func TestMemoryStore_AddRootAndGetNode(t *testing.T) {
	store := NewMemoryStore()
	store.AddRoot(&Node{
		ID:       "sub-01",
		Mode:     fs.ModeDir,
		Children: []string{"sub-01/ses-01"},
	})

	node, err := store.GetNode("sub-01")
	if err != nil {
		t.Fatalf("GetNode(sub-01) returned error: %v", err)
	}
	if !node.Mode.IsDir() {
		t.Error("sub-01 should be a directory")
	}
	if len(node.Children) != 1 {
		t.Errorf("sub-01 children = %d, want 1", len(node.Children))
	}
}

func TestMemoryStore_GetNodeNormalizesLeadingSlash(t *testing.T) {
	store := NewMemoryStore()
	store.AddNode(&Node{ID: "sub-01/ses-01", Mode: fs.ModeDir})

	node, err := store.GetNode("/sub-01/ses-01")
	if err != nil {
		t.Fatalf("GetNode(/sub-01/ses-01) should resolve: %v", err)
	}
	if node.ID != "sub-01/ses-01" {
		t.Errorf("ID = %q, want %q", node.ID, "sub-01/ses-01")
	}
}

func TestMemoryStore_ListChildrenRoot(t *testing.T) {
	store := NewMemoryStore()
	store.AddRoot(&Node{ID: "sub-01", Mode: fs.ModeDir})
	store.AddRoot(&Node{ID: "sub-02", Mode: fs.ModeDir})
	store.AddRoot(&Node{ID: "sub-01", Mode: fs.ModeDir})

	roots, err := store.ListChildren("/")
	if err != nil {
		t.Fatalf("ListChildren(/) returned error: %v", err)
	}
	if len(roots) != 2 {
		t.Fatalf("roots = %d, want 2 (deduped)", len(roots))
	}
}

func TestMemoryStore_GetNodeNotFound(t *testing.T) {
	store := NewMemoryStore()

	if _, err := store.GetNode("nonexistent"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := store.ListChildren("nonexistent"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ReadContent(t *testing.T) {
	store := NewMemoryStore()
	store.AddNode(&Node{ID: "sub-01/files", Data: []byte("/data/1.dcm\n")})

	buf := make([]byte, 5)
	n, err := store.ReadContent("sub-01/files", buf, 6)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(buf[:n]); got != "1.dcm" {
		t.Errorf("ReadContent = %q, want %q", got, "1.dcm")
	}

	n, err = store.ReadContent("sub-01/files", buf, 100)
	if err != nil || n != 0 {
		t.Errorf("read past end = (%d, %v), want (0, nil)", n, err)
	}
}
