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

// Package identity provides the admission oracle consulted before an address
// may act as an agent or validator. The production deployment resolves
// namespace ownership off-ledger; in-process deployments use the allowlist
// verifier.
package identity

import (
	mapset "github.com/deckarep/golang-set"
	lru "github.com/hashicorp/golang-lru"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
)

// Verifier answers whether an address may act in a role.
type Verifier interface {
	Verify(addr common.Address, role common.Role) bool
}

// OpenVerifier admits everyone. Used when admission control is disabled.
type OpenVerifier struct{}

// Verify always reports true.
func (OpenVerifier) Verify(common.Address, common.Role) bool { return true }

// AllowlistVerifier admits only explicitly registered addresses, tracked per
// role. Not safe for concurrent mutation; the protocol serializes access.
type AllowlistVerifier struct {
	allowed [common.NumRoles]mapset.Set
}

// NewAllowlistVerifier creates an empty allowlist.
func NewAllowlistVerifier() *AllowlistVerifier {
	v := new(AllowlistVerifier)
	for i := range v.allowed {
		v.allowed[i] = mapset.NewSet()
	}
	return v
}

// Allow registers an address for a role.
func (v *AllowlistVerifier) Allow(addr common.Address, role common.Role) {
	v.allowed[role].Add(addr)
}

// Disallow removes an address from a role.
func (v *AllowlistVerifier) Disallow(addr common.Address, role common.Role) {
	v.allowed[role].Remove(addr)
}

// Verify reports whether the address is registered for the role.
func (v *AllowlistVerifier) Verify(addr common.Address, role common.Role) bool {
	return v.allowed[role].Contains(addr)
}

// cacheEntries bounds the admission cache. Adaptive replacement keeps the
// working set of active validators resident across rounds.
const cacheEntries = 4096

type cacheKey struct {
	addr common.Address
	role common.Role
}

// CachingVerifier memoizes the answers of a slow backing verifier.
type CachingVerifier struct {
	backend Verifier
	cache   *lru.ARCCache
}

// NewCachingVerifier wraps a verifier with an in-memory answer cache.
func NewCachingVerifier(backend Verifier) *CachingVerifier {
	cache, _ := lru.NewARC(cacheEntries)
	return &CachingVerifier{backend: backend, cache: cache}
}

// Verify returns the cached answer when present, otherwise consults the
// backend and caches the result.
func (v *CachingVerifier) Verify(addr common.Address, role common.Role) bool {
	key := cacheKey{addr, role}
	if ok, hit := v.cache.Get(key); hit {
		return ok.(bool)
	}
	ok := v.backend.Verify(addr, role)
	v.cache.Add(key, ok)
	return ok
}

// Invalidate drops a cached answer, forcing the next Verify to re-consult
// the backend. Called when an allowlist entry changes.
func (v *CachingVerifier) Invalidate(addr common.Address, role common.Role) {
	v.cache.Remove(cacheKey{addr, role})
}
