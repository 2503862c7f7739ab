/*
Copyright (C) 2026  Neb Contributors

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package storage

import (
	"fmt"
	"sync"
)

// UpdateFunc is a named, in-process transform applied to a cell's decoded
// value by update_cell (section 4.5): given the cell's current value and
// caller-supplied arguments, it returns the new value to encode in its
// place. Dispatch is by name rather than by shipping code, since dynamic
// symbol loading is out of scope for this engine (section 2, Non-goals).
type UpdateFunc func(current map[string]any, args ...any) (map[string]any, error)

// FuncRegistry holds the named update functions a Node knows how to run.
// NewNode creates it empty and the embedding code registers functions
// through Register; lookups happen on every
// update_cell call, so the table itself is a plain mutex-guarded map rather
// than anything read-optimized — registration churn is low but so is the
// map's size, and correctness (no torn reads of a freshly registered
// function) matters more than micro-contention here.
type FuncRegistry struct {
	mu    sync.RWMutex
	funcs map[string]UpdateFunc
}

func NewFuncRegistry() *FuncRegistry {
	return &FuncRegistry{funcs: make(map[string]UpdateFunc)}
}

// Register adds or replaces the function stored under name.
func (r *FuncRegistry) Register(name string, fn UpdateFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Lookup resolves name to its registered function.
func (r *FuncRegistry) Lookup(name string) (UpdateFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("update function %q not registered", name)
	}
	return fn, nil
}
