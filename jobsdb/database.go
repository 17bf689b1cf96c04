// Copyright 2025 The AGIJobs Authors
// This file is part of the agijobs library.
//
// The agijobs library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The agijobs library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the agijobs library. If not, see <http://www.gnu.org/licenses/>.

// Package jobsdb defines the key-value store the protocol persists ledger
// snapshots into, with a LevelDB-backed implementation for nodes and an
// in-memory one for tests.
package jobsdb

import (
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// ErrNotFound is returned when a key is absent from the store.
var ErrNotFound = errors.New("not found")

// Database is the minimal key-value contract the protocol needs.
type Database interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Close() error
}

// LevelDB is a persistent key-value store backed by goleveldb.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens (creating if necessary) a LevelDB database at file.
func NewLevelDB(file string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(file, &opt.Options{
		OpenFilesCacheCapacity: 64,
		BlockCacheCapacity:     8 * opt.MiB,
		WriteBuffer:            4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	})
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Has retrieves if a key is present in the store.
func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

// Get retrieves the given key if it's present in the store.
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	blob, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return blob, err
}

// Put inserts the given value into the store.
func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

// Delete removes the key from the store.
func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

// Close flushes and closes the underlying database.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

// MemoryDB is an ephemeral key-value store for tests and tooling.
type MemoryDB struct {
	mu sync.RWMutex
	kv map[string][]byte
}

// NewMemoryDB creates an empty in-memory store.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{kv: make(map[string][]byte)}
}

// Has retrieves if a key is present in the store.
func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.kv[string(key)]
	return ok, nil
}

// Get retrieves the given key if it's present in the store.
func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if blob, ok := m.kv[string(key)]; ok {
		cpy := make([]byte, len(blob))
		copy(cpy, blob)
		return cpy, nil
	}
	return nil, ErrNotFound
}

// Put inserts the given value into the store.
func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]byte, len(value))
	copy(cpy, value)
	m.kv[string(key)] = cpy
	return nil
}

// Delete removes the key from the store.
func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, string(key))
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryDB) Close() error { return nil }

// Len returns the number of stored keys.
func (m *MemoryDB) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.kv)
}
