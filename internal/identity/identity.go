// Package identity resolves the durable key of a listing observation.
//
// Two candidates with equal Identity are the same listing, whatever their
// other fields say.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"vehicle-deal-tracker/internal/models"
)

var (
	// ErrMissingIdentity is returned when a candidate has no source or no
	// source-native id.
	ErrMissingIdentity = errors.New("missing listing identity")

	// ErrMissingField is returned when a required descriptive field is absent.
	ErrMissingField = errors.New("missing required field")
)

// Identity is the (source, source-native id) pair naming a listing.
type Identity struct {
	Source          string
	SourceListingID string
}

// String renders the identity as "source/id".
func (id Identity) String() string {
	return id.Source + "/" + id.SourceListingID
}

// Resolve computes the identity of c. It has no side effects.
func Resolve(c models.Candidate) (Identity, error) {
	id := Identity{
		Source:          strings.TrimSpace(c.Source),
		SourceListingID: strings.TrimSpace(c.SourceListingID),
	}
	if id.Source == "" {
		return Identity{}, fmt.Errorf("%w: source is empty", ErrMissingIdentity)
	}
	if id.SourceListingID == "" {
		return Identity{}, fmt.Errorf("%w: source_listing_id is empty (source %s)", ErrMissingIdentity, id.Source)
	}
	return id, nil
}

// Of returns the identity a stored listing was created under.
func Of(l *models.Listing) Identity {
	return Identity{Source: l.Source, SourceListingID: l.SourceListingID}
}

// Validate resolves c and checks the required descriptive fields
// (make, model, year).
func Validate(c models.Candidate) (Identity, error) {
	id, err := Resolve(c)
	if err != nil {
		return Identity{}, err
	}

	var missing []string
	if strings.TrimSpace(c.Make) == "" {
		missing = append(missing, "make")
	}
	if strings.TrimSpace(c.Model) == "" {
		missing = append(missing, "model")
	}
	if c.Year <= 0 {
		missing = append(missing, "year")
	}
	if len(missing) > 0 {
		return Identity{}, fmt.Errorf("%w: %s (%s)", ErrMissingField, strings.Join(missing, ", "), id)
	}
	return id, nil
}
