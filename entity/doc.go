// Package entity builds per-type descriptors that expose identifier access and the
// fields forming composite secondary indexes.
//
// Descriptors are derived once per Go type from `repo` struct tags (or from an
// explicit Registration) and memoized for the lifetime of the process. The
// identifier travels through the repository contract as a canonical string;
// string, uuid.UUID and integer identifier fields are supported.
package entity
