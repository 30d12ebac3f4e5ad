// Package drive implements the DriveClient adapter (C6): concrete
// backends behind the core.Client interface.
package drive

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"pdsync/internal/core"
)

type memNode struct {
	uid         string
	parentUID   string
	name        string
	isDirectory bool
	sha1        string
	modTime     int64
	size        int64
}

// MemoryClient is an in-memory implementation of core.Client. It stores
// every node in memory, making it useful for tests and for exercising the
// engine end to end without a network round trip. Safe for concurrent use.
type MemoryClient struct {
	mu       sync.RWMutex
	nodes    map[string]*memNode // uid -> node
	rootUID  string
	children map[string]map[string]string // parentUID -> name -> childUID
}

// NewMemoryClient creates an in-memory drive client with a single root folder.
func NewMemoryClient() *MemoryClient {
	root := &memNode{uid: uuid.New().String(), name: "", isDirectory: true}
	return &MemoryClient{
		nodes:    map[string]*memNode{root.uid: root},
		rootUID:  root.uid,
		children: map[string]map[string]string{root.uid: {}},
	}
}

func (m *MemoryClient) GetRootFolder() (string, error) {
	return m.rootUID, nil
}

func (m *MemoryClient) IterateChildren(parentUID string) ([]core.ChildEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kids, ok := m.children[parentUID]
	if !ok {
		return nil, fmt.Errorf("drive: parent %s not found", parentUID)
	}

	out := make([]core.ChildEntry, 0, len(kids))
	for _, uid := range kids {
		n := m.nodes[uid]
		out = append(out, core.ChildEntry{
			UID:                n.uid,
			Name:               n.name,
			IsDirectory:        n.isDirectory,
			ActiveRevisionSHA1: n.sha1,
		})
	}
	return out, nil
}

func (m *MemoryClient) CreateFolder(parentUID, name string, mtime int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[parentUID]; !ok {
		return "", fmt.Errorf("drive: parent %s not found", parentUID)
	}
	if uid, exists := m.children[parentUID][name]; exists {
		return uid, nil // idempotent: a node with this name already exists under parent
	}

	n := &memNode{uid: uuid.New().String(), parentUID: parentUID, name: name, isDirectory: true, modTime: mtime}
	m.nodes[n.uid] = n
	m.children[n.uid] = map[string]string{}
	m.children[parentUID][name] = n.uid
	return n.uid, nil
}

func (m *MemoryClient) UploadFile(parentUID, name string, meta core.UploadMeta, r io.Reader) (string, error) {
	data, sum, err := readAndSum(r)
	if err != nil {
		return "", err
	}
	if int64(len(data)) != meta.Size {
		return "", fmt.Errorf("drive: size mismatch, expected %d got %d", meta.Size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[parentUID]; !ok {
		return "", fmt.Errorf("drive: parent %s not found", parentUID)
	}

	n := &memNode{uid: uuid.New().String(), parentUID: parentUID, name: name, sha1: sum, modTime: meta.ModTime, size: meta.Size}
	m.nodes[n.uid] = n
	m.children[parentUID][name] = n.uid
	return n.uid, nil
}

func (m *MemoryClient) UploadRevision(nodeUID string, meta core.UploadMeta, r io.Reader) (string, error) {
	data, sum, err := readAndSum(r)
	if err != nil {
		return "", err
	}
	if int64(len(data)) != meta.Size {
		return "", fmt.Errorf("drive: size mismatch, expected %d got %d", meta.Size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[nodeUID]
	if !ok {
		return "", fmt.Errorf("drive: node %s not found", nodeUID)
	}
	n.sha1 = sum
	n.modTime = meta.ModTime
	n.size = meta.Size
	return n.uid, nil
}

func (m *MemoryClient) Relocate(nodeUID string, req core.RelocateRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[nodeUID]
	if !ok {
		return fmt.Errorf("drive: node %s not found", nodeUID)
	}

	oldParent, oldName := n.parentUID, n.name
	newParent := n.parentUID
	if req.NewParentUID != "" {
		if _, ok := m.nodes[req.NewParentUID]; !ok {
			return fmt.Errorf("drive: new parent %s not found", req.NewParentUID)
		}
		newParent = req.NewParentUID
	}
	newName := n.name
	if req.NewName != "" {
		newName = req.NewName
	}

	if oldParent != "" {
		delete(m.children[oldParent], oldName)
	}
	if m.children[newParent] == nil {
		m.children[newParent] = map[string]string{}
	}
	m.children[newParent][newName] = n.uid
	n.parentUID = newParent
	n.name = newName
	return nil
}

func (m *MemoryClient) Trash(uids []string) ([]core.ItemResult, error) {
	return m.remove(uids)
}

func (m *MemoryClient) Delete(uids []string) ([]core.ItemResult, error) {
	return m.remove(uids)
}

func (m *MemoryClient) remove(uids []string) ([]core.ItemResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]core.ItemResult, 0, len(uids))
	for _, uid := range uids {
		n, ok := m.nodes[uid]
		if !ok {
			results = append(results, core.ItemResult{UID: uid, NotFound: true})
			continue
		}
		if n.parentUID != "" {
			delete(m.children[n.parentUID], n.name)
		}
		delete(m.children, n.uid)
		delete(m.nodes, n.uid)
		results = append(results, core.ItemResult{UID: uid})
	}
	return results, nil
}

func readAndSum(r io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("drive: reading upload body: %w", err)
	}
	sum := sha1.Sum(data)
	return data, hex.EncodeToString(sum[:]), nil
}

var _ core.Client = (*MemoryClient)(nil)
