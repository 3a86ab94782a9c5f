// Package errors provides structured error handling for the game engine.
package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors, rejected before any state read.
	CodePlayerIDRequired Code = "PLAYER_ID_REQUIRED"
	CodeTableIDRequired  Code = "TABLE_ID_REQUIRED"
	CodeBetInvalid       Code = "BET_INVALID"
	CodeBetKindInvalid   Code = "BET_KIND_INVALID"
	CodeFilterInvalid    Code = "FILTER_INVALID"

	// Precondition errors, rejected after a state read with no side effects.
	CodeAlreadyStarted   Code = "ALREADY_STARTED"
	CodeAlreadyJoined    Code = "ALREADY_JOINED"
	CodeTableFull        Code = "TABLE_FULL"
	CodeNotYourTurn      Code = "NOT_YOUR_TURN"
	CodeGameNotStarted   Code = "GAME_NOT_STARTED"
	CodeGameAlreadyEnded Code = "GAME_ALREADY_ENDED"
	CodeSplitNotAllowed  Code = "SPLIT_NOT_ALLOWED"
	CodeBettingClosed    Code = "BETTING_CLOSED"

	// Storage errors.
	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"

	// Dependency errors, surfaced to the caller as retryable failures.
	CodeDeckUnavailable    Code = "DECK_UNAVAILABLE"
	CodePublishFailed      Code = "PUBLISH_FAILED"
	CodeScheduleFailed     Code = "SCHEDULE_FAILED"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"

	// Identity errors.
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// Rules errors.
	CodeRulesScriptInvalid Code = "RULES_SCRIPT_INVALID"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodePlayerIDRequired,
		CodeTableIDRequired,
		CodeBetInvalid,
		CodeBetKindInvalid,
		CodeFilterInvalid,
		CodeRulesScriptInvalid:
		return codes.InvalidArgument

	case CodeAlreadyStarted,
		CodeAlreadyJoined,
		CodeTableFull,
		CodeNotYourTurn,
		CodeGameNotStarted,
		CodeGameAlreadyEnded,
		CodeSplitNotAllowed,
		CodeBettingClosed:
		return codes.FailedPrecondition

	case CodeNotFound:
		return codes.NotFound

	case CodeConflict:
		return codes.Aborted

	case CodeDeckUnavailable,
		CodePublishFailed,
		CodeScheduleFailed,
		CodeStorageUnavailable:
		return codes.Unavailable

	case CodeUnauthenticated:
		return codes.Unauthenticated

	default:
		return codes.Internal
	}
}

// HTTPStatus maps domain codes to HTTP status codes for the REST surface.
func (c Code) HTTPStatus() int {
	switch c.GRPCCode() {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Aborted:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
