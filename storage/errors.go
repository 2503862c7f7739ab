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

import "errors"

// Sentinel error kinds surfaced at the in-process API (spec section 7).
var (
	ErrAlreadyExists  = errors.New("cell already exists")
	ErrNotFound       = errors.New("cell not found")
	ErrSchemaNotFound = errors.New("schema not found")
	ErrStoreFull      = errors.New("store full")
	ErrObjectTooLarge = errors.New("object too large")
	ErrCorruptReplica = errors.New("corrupt replica")
)
