package core

import "io"

// ChildEntry is one entry yielded by Client.IterateChildren.
type ChildEntry struct {
	UID         string
	Name        string
	IsDirectory bool
	// ActiveRevisionSHA1 is hex, case-insensitive, empty for legacy files
	// or directories.
	ActiveRevisionSHA1 string
}

// UploadMeta carries the metadata needed to create or revise a remote file.
type UploadMeta struct {
	ModTime int64 // unix millis
	Size    int64
}

// RelocateRequest moves and/or renames a remote node. Either field may be
// empty to mean "unchanged".
type RelocateRequest struct {
	NewParentUID string
	NewName      string
}

// ItemResult is one per-item outcome from a batch Trash/Delete call.
type ItemResult struct {
	UID      string
	Err      error
	NotFound bool // the item was already gone; treated as success (idempotent)
}

// Client is the DriveClient adapter (C6): the opaque remote driver.
// It is an external collaborator per spec §6 — only its interface is
// specified here. Node UIDs are opaque and stable across relocates.
type Client interface {
	GetRootFolder() (nodeUID string, err error)

	// IterateChildren returns every child of parentUID. The spec describes
	// this as a lazy sequence that callers must fully drain before an
	// implementation can mark its folder cache complete; a synchronous
	// Client satisfies that contract by paginating internally and handing
	// back the fully materialized result, in remote order.
	IterateChildren(parentUID string) ([]ChildEntry, error)

	CreateFolder(parentUID, name string, mtime int64) (nodeUID string, err error)

	UploadFile(parentUID, name string, meta UploadMeta, r io.Reader) (nodeUID string, err error)
	UploadRevision(nodeUID string, meta UploadMeta, r io.Reader) (newNodeUID string, err error)

	Relocate(nodeUID string, req RelocateRequest) error

	Trash(uids []string) ([]ItemResult, error)
	Delete(uids []string) ([]ItemResult, error)
}
