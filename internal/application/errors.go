package application

import (
	"errors"

	"github.com/ericfisherdev/checkgate/internal/domain/checkquery"
)

var (
	// ErrInvalidQuery is returned for pending-check queries that fail to parse
	// or violate the anchoring rules.
	ErrInvalidQuery = checkquery.ErrInvalidQuery

	// ErrInvalidInput is returned when a request is syntactically valid but its
	// content is not acceptable.
	ErrInvalidInput = errors.New("invalid input")

	// ErrResourceConflict is returned when a request collides with existing
	// state, e.g. a repeated override or a scheme with too many checkers.
	ErrResourceConflict = errors.New("resource conflict")

	// ErrInternalConsistency is returned when stored checkers and checks
	// disagree in a way the read path should have prevented.
	ErrInternalConsistency = errors.New("internal consistency violation")
)
