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

package common

import "errors"

// Role is a participant category with independently tracked stake and
// reputation.
type Role uint8

const (
	RoleAgent Role = iota
	RoleValidator
	RoleOperator
	RoleEmployer

	// NumRoles is the number of participant categories.
	NumRoles = 4
)

// Valid reports whether the role is a known participant category.
func (r Role) Valid() bool { return r < NumRoles }

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleAgent:
		return "agent"
	case RoleValidator:
		return "validator"
	case RoleOperator:
		return "operator"
	case RoleEmployer:
		return "employer"
	}
	return "unknown"
}

// Permission is a protocol-level capability granted to a caller address.
// State-mutating entrypoints of the ledgers check the caller against a
// PermissionTable instead of inspecting who called them.
type Permission uint8

const (
	// PermissionController marks the orchestrator allowed to move escrowed
	// value: lock, pay, slash and release.
	PermissionController Permission = iota + 1
	// PermissionArbitrator marks addresses allowed to resolve disputes and
	// toggle blacklist entries.
	PermissionArbitrator
)

// ErrUnauthorizedCaller is returned when an address lacks the permission an
// entrypoint requires.
var ErrUnauthorizedCaller = errors.New("unauthorized caller")

// PermissionTable is a typed permission table mapping addresses to the
// capabilities they hold. The execution model is serialized, so the table
// performs no locking of its own.
type PermissionTable struct {
	perms map[Address]map[Permission]struct{}
}

// NewPermissionTable creates an empty permission table.
func NewPermissionTable() *PermissionTable {
	return &PermissionTable{perms: make(map[Address]map[Permission]struct{})}
}

// Grant gives the address the permission.
func (t *PermissionTable) Grant(addr Address, p Permission) {
	set, ok := t.perms[addr]
	if !ok {
		set = make(map[Permission]struct{})
		t.perms[addr] = set
	}
	set[p] = struct{}{}
}

// Revoke removes the permission from the address.
func (t *PermissionTable) Revoke(addr Address, p Permission) {
	if set, ok := t.perms[addr]; ok {
		delete(set, p)
		if len(set) == 0 {
			delete(t.perms, addr)
		}
	}
}

// Has reports whether the address holds the permission.
func (t *PermissionTable) Has(addr Address, p Permission) bool {
	set, ok := t.perms[addr]
	if !ok {
		return false
	}
	_, ok = set[p]
	return ok
}

// Require returns ErrUnauthorizedCaller unless the address holds the
// permission.
func (t *PermissionTable) Require(addr Address, p Permission) error {
	if !t.Has(addr, p) {
		return ErrUnauthorizedCaller
	}
	return nil
}
