// Package repository consolidates the interface definitions and gorm
// implementations for every persisted entity in one package (the teacher
// split these across "repositories" and "repository" inconsistently — see
// DESIGN.md — so here there is exactly one).
package repository

import "errors"

// ErrNotFound is returned by Get-style methods when no row matches.
// Callers compare with errors.Is, never by string.
var ErrNotFound = errors.New("repository: record not found")
