// filestore.go is the no-database fallback: each order lives in its own JSON
// file written via atomic replacement (write to .tmp, then rename), chains
// are appended to a JSON-lines file. Dry runs and local development get the
// same persistence semantics as the Postgres repositories without a server.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"triarb/pkg/types"
)

// FileStore persists orders and chains to a directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type FileStore struct {
	dir string
	mu  sync.Mutex // serializes all file operations
}

// OpenFileStore creates a store backed by the given directory.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *FileStore) Close() error {
	return nil
}

// Put persists the order, merging with the stored version the way the SQL
// upsert does: the first write owns identity and creation fields, later
// writes refresh mutable state without zeroing what they don't carry.
func (s *FileStore) Put(_ context.Context, o *types.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := *o
	if merged.UpdatedAtMs == 0 {
		merged.UpdatedAtMs = time.Now().UnixMilli()
	}
	if prev, err := s.readOrder(o.ClientOrderID); err == nil {
		mergeOrder(&merged, prev)
	}

	data, err := json.Marshal(&merged)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	path := s.orderPath(o.ClientOrderID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write order: %w", err)
	}
	return os.Rename(tmp, path)
}

// Get returns the order stored for a client order id.
func (s *FileStore) Get(_ context.Context, clientOrderID string) (*types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOrder(clientOrderID)
}

func (s *FileStore) readOrder(clientOrderID string) (*types.Order, error) {
	data, err := os.ReadFile(s.orderPath(clientOrderID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("read order: %w", err)
	}

	o := &types.Order{}
	if err := json.Unmarshal(data, o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return o, nil
}

func (s *FileStore) orderPath(clientOrderID string) string {
	return filepath.Join(s.dir, "ord_"+clientOrderID+".json")
}

// chainRecord is one line of chains.jsonl.
type chainRecord struct {
	UID   string       `json:"uid"`
	Hash8 int64        `json:"hash8"`
	Chain *types.Chain `json:"chain"`
}

// PutChain appends one chain to the chains log.
func (s *FileStore) PutChain(_ context.Context, c *types.Chain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendChains([]*types.Chain{c})
}

// PutBatch appends a batch of chains to the chains log.
func (s *FileStore) PutBatch(_ context.Context, chains []*types.Chain) error {
	if len(chains) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendChains(chains)
}

func (s *FileStore) appendChains(chains []*types.Chain) error {
	path := filepath.Join(s.dir, "chains.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open chains log: %w", err)
	}
	defer f.Close()

	for _, c := range chains {
		line, err := json.Marshal(chainRecord{UID: c.UID(), Hash8: c.Hash8(), Chain: c})
		if err != nil {
			return fmt.Errorf("marshal chain: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("append chain: %w", err)
		}
	}
	return nil
}

// mergeOrder folds the previously stored order into the incoming one,
// mirroring the SQL upsert's preserve rules.
func mergeOrder(dst, prev *types.Order) {
	dst.Symbol = prev.Symbol
	dst.Side = prev.Side
	dst.Exchange = prev.Exchange
	dst.CreatedAtMs = prev.CreatedAtMs
	dst.ArbitrageHash8 = prev.ArbitrageHash8
	if dst.OrderID == 0 {
		dst.OrderID = prev.OrderID
	}
	if dst.Comment == "" {
		dst.Comment = prev.Comment
	}
	if dst.FiredAtMs == 0 {
		dst.FiredAtMs = prev.FiredAtMs
	}
	if dst.TransactTimeMs == 0 {
		dst.TransactTimeMs = prev.TransactTimeMs
	}
	if len(dst.Raw) == 0 {
		dst.Raw = prev.Raw
	}
}
