package drive

import (
	"bytes"
	"testing"

	"pdsync/internal/core"
)

func TestMemoryClient_CreateFolderIdempotent(t *testing.T) {
	c := NewMemoryClient()
	root, _ := c.GetRootFolder()

	uid1, err := c.CreateFolder(root, "docs", 1000)
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	uid2, err := c.CreateFolder(root, "docs", 1000)
	if err != nil {
		t.Fatalf("CreateFolder() second call error = %v", err)
	}
	if uid1 != uid2 {
		t.Errorf("CreateFolder() not idempotent: %s != %s", uid1, uid2)
	}
}

func TestMemoryClient_UploadFileAndIterate(t *testing.T) {
	c := NewMemoryClient()
	root, _ := c.GetRootFolder()

	data := []byte("hello world")
	uid, err := c.UploadFile(root, "a.txt", core.UploadMeta{ModTime: 1, Size: int64(len(data))}, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}

	children, err := c.IterateChildren(root)
	if err != nil {
		t.Fatalf("IterateChildren() error = %v", err)
	}
	if len(children) != 1 || children[0].UID != uid {
		t.Fatalf("IterateChildren() = %v, want [uid %s]", children, uid)
	}
	if children[0].ActiveRevisionSHA1 == "" {
		t.Error("ActiveRevisionSHA1 not populated after upload")
	}
}

func TestMemoryClient_UploadFile_SizeMismatch(t *testing.T) {
	c := NewMemoryClient()
	root, _ := c.GetRootFolder()

	_, err := c.UploadFile(root, "a.txt", core.UploadMeta{Size: 100}, bytes.NewReader([]byte("short")))
	if err == nil {
		t.Error("UploadFile() with wrong size declaration should fail")
	}
}

func TestMemoryClient_RelocateRename(t *testing.T) {
	c := NewMemoryClient()
	root, _ := c.GetRootFolder()

	folderA, _ := c.CreateFolder(root, "a", 0)
	folderB, _ := c.CreateFolder(root, "b", 0)
	fileUID, _ := c.UploadFile(folderA, "x.txt", core.UploadMeta{Size: 3}, bytes.NewReader([]byte("abc")))

	if err := c.Relocate(fileUID, core.RelocateRequest{NewParentUID: folderB, NewName: "y.txt"}); err != nil {
		t.Fatalf("Relocate() error = %v", err)
	}

	aChildren, _ := c.IterateChildren(folderA)
	if len(aChildren) != 0 {
		t.Errorf("old parent still has children: %v", aChildren)
	}
	bChildren, _ := c.IterateChildren(folderB)
	if len(bChildren) != 1 || bChildren[0].Name != "y.txt" {
		t.Errorf("new parent children = %v, want [y.txt]", bChildren)
	}
}

func TestMemoryClient_DeleteIdempotent(t *testing.T) {
	c := NewMemoryClient()
	root, _ := c.GetRootFolder()
	uid, _ := c.UploadFile(root, "a.txt", core.UploadMeta{Size: 3}, bytes.NewReader([]byte("abc")))

	results, err := c.Delete([]string{uid, "does-not-exist"})
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Delete() results = %v, want 2 entries", results)
	}
	if results[0].NotFound {
		t.Error("existing node reported NotFound")
	}
	if !results[1].NotFound {
		t.Error("missing node did not report NotFound")
	}
}
