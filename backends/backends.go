// Package backends holds the helpers shared by the reference backing stores in
// its sub packages.
package backends

import (
	"errors"

	"github.com/goliatone/go-repository-pipeline/entity"
)

// maxIDAttempts bounds identifier regeneration after a collision.
const maxIDAttempts = 8

// Sequence yields store assigned identifiers for kinds the descriptor cannot
// generate, such as integers.
type Sequence func() (string, error)

// AssignID returns record carrying a fresh identifier. It uses the descriptor
// generator when the identifier kind supports one and falls back to next. A nil
// next with an integer identifier reports entity.ErrIDNotGenerated.
func AssignID[T any](desc *entity.Descriptor[T], record T, next Sequence) (T, string, error) {
	id, err := desc.NewID()
	if errors.Is(err, entity.ErrIDNotGenerated) && next != nil {
		id, err = next()
	}
	if err != nil {
		return record, "", err
	}
	out, err := desc.WithID(record, id)
	if err != nil {
		return record, "", err
	}
	return out, id, nil
}

// InsertFresh assigns identifiers to record until put accepts one. put reports
// false when the identifier is already taken.
func InsertFresh[T any](desc *entity.Descriptor[T], record T, next Sequence, put func(id string, record T) (bool, error)) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		withID, id, err := AssignID(desc, record, next)
		if err != nil {
			return "", err
		}
		ok, err := put(id, withID)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
	}
	return "", errors.New("could not allocate a free identifier")
}
