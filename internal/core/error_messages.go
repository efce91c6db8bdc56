package core

// error_messages.go maps technical errors to user-facing messages with a
// support code. Callers quote the code so support staff can find the cause.
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Mapping not found: no mapping is registered under the name
//	MAP002 - Invalid mapping: the mapping file could not be read
//	MAP003 - Unknown backend: the mapping names a backend that is not built in
//
// # Schema Errors (SCH001-SCH099)
//
//	SCH001 - Missing required key in a schema fragment
//	SCH002 - Broken dependency: a key was given without its companions
//	SCH003 - Hook not found
//	SCH004 - Unresolved name: entity type or attribute is not in the catalog
//	SCH005 - Invalid value or query in the schema
//	SCH000 - Any other schema error
//
// # Source Errors (SRC001-SRC099)
//
//	SRC001 - Source too large
//	SRC002 - Source could not be read or parsed by the backend
//	SRC003 - Empty source
//
// # Store Errors (DB001-DB099)
//
//	DB001 - Duplicate key
//	DB002 - Connection refused
//	DB003 - Connection reset
//	DB004 - Deadlock
//	DB005 - Missing table: the store has not been migrated
//
// # Load Errors (LOAD001-LOAD099)
//
//	LOAD001 - Load not found or expired
//	LOAD002 - Too many loads in progress
//	LOAD003 - Load cancelled
//	LOAD004 - Load timed out
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests
//
// # Default (ERR000)
//
//	ERR000 - Anything else. Check the logs for the original error.
//
// Typed errors are matched first with errors.Is, in table order. Postgres
// errors are then matched on SQLSTATE. Errors that only carry text (SQLite
// and network errors, mostly) fall back to case-insensitive substring
// patterns; the first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/docmapper/internal/backend"
	"github.com/JonMunkholm/docmapper/internal/hook"
	"github.com/JonMunkholm/docmapper/internal/schema"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorTarget struct {
	target error
	msg    UserMessage
}

// errorTargets is checked before errorPatterns. More specific targets come
// first: a hook that is not found during validation is also a schema error.
var errorTargets = []errorTarget{
	{ErrMappingNotFound, UserMessage{
		Message: "Mapping not found",
		Action:  "Check the mapping name against GET /api/mappings",
		Code:    "MAP001",
	}},
	{ErrInvalidMapping, UserMessage{
		Message: "The mapping definition is invalid",
		Action:  "Fix the mapping file; it needs a backend and a schema",
		Code:    "MAP002",
	}},
	{ErrUnknownBackend, UserMessage{
		Message: "The mapping uses an unknown backend",
		Action:  "Use one of the built-in backends: xml or json",
		Code:    "MAP003",
	}},
	{hook.ErrNotFound, UserMessage{
		Message: "The schema names a hook that does not exist",
		Action:  "Check the hook name against GET /api/hooks",
		Code:    "SCH003",
	}},
	{schema.ErrMissingRequired, UserMessage{
		Message: "The schema is missing a required key",
		Action:  "Every entity needs query and fields; every field needs query",
		Code:    "SCH001",
	}},
	{schema.ErrDependency, UserMessage{
		Message: "The schema uses a key without its companion keys",
		Action:  "model and field go together, as do through, left_field and right_field",
		Code:    "SCH002",
	}},
	{schema.ErrUnresolved, UserMessage{
		Message: "The schema names an entity type or attribute that does not exist",
		Action:  "Check the names against the entity catalog",
		Code:    "SCH004",
	}},
	{schema.ErrInvalidValue, UserMessage{
		Message: "The schema contains an invalid value",
		Action:  "Review the reported key in the schema",
		Code:    "SCH005",
	}},
	{schema.ErrSchema, UserMessage{
		Message: "The schema is invalid",
		Action:  "Review the mapping schema",
		Code:    "SCH000",
	}},
	{ErrSourceTooLarge, UserMessage{
		Message: "Source document exceeds the maximum size",
		Action:  "Split the document into smaller parts",
		Code:    "SRC001",
	}},
	{ErrEmptySource, UserMessage{
		Message: "The source document is empty",
		Action:  "Send the document in the request body",
		Code:    "SRC003",
	}},
	{backend.ErrBackend, UserMessage{
		Message: "The source document could not be read",
		Action:  "Check that the document is well-formed and matches the mapping backend",
		Code:    "SRC002",
	}},
	{ErrLoadNotFound, UserMessage{
		Message: "Load not found",
		Action:  "The load may have expired. Start a new load",
		Code:    "LOAD001",
	}},
	{ErrTooManyLoads, msgBusy},
	{context.Canceled, UserMessage{
		Message: "Load was cancelled",
		Action:  "Start a new load when ready",
		Code:    "LOAD003",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Load timed out",
		Action:  "Try a smaller document or try again later",
		Code:    "LOAD004",
	}},
}

var (
	msgDuplicate = UserMessage{
		Message: "A record with this key already exists",
		Action:  "Please try again; the load is idempotent",
		Code:    "DB001",
	}
	msgRefused = UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB002",
	}
	msgReset = UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB003",
	}
	msgDeadlock = UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB004",
	}
	msgMissingTable = UserMessage{
		Message: "The entity store is missing a table",
		Action:  "Run the server with DB_AUTO_MIGRATE=true",
		Code:    "DB005",
	}
	msgBusy = UserMessage{
		Message: "System is busy processing other loads",
		Action:  "Please wait a moment and try again",
		Code:    "LOAD002",
	}
)

// sqlStates maps Postgres error codes to user messages.
var sqlStates = map[string]UserMessage{
	"23505": msgDuplicate,    // unique_violation
	"08001": msgRefused,      // sqlclient_unable_to_establish_sqlconnection
	"08006": msgReset,        // connection_failure
	"57P01": msgReset,        // admin_shutdown
	"40P01": msgDeadlock,     // deadlock_detected
	"40001": msgDeadlock,     // serialization_failure
	"55P03": msgDeadlock,     // lock_not_available
	"42P01": msgMissingTable, // undefined_table
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps lower-case substrings to user messages.
var errorPatterns = []errorPattern{
	{"duplicate key", msgDuplicate},
	{"unique constraint", msgDuplicate},
	{"connection refused", msgRefused},
	{"connection reset", msgReset},
	{"deadlock", msgDeadlock},
	{"no such table", msgMissingTable},
	{"does not exist", msgMissingTable},
	{"too many loads", msgBusy},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
//	msg := MapError(fmt.Errorf("load: %w", ErrTooManyLoads))
//	// msg.Code == "LOAD002"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, et := range errorTargets {
		if errors.Is(err, et.target) {
			return et.msg
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if msg, ok := sqlStates[strings.TrimSpace(pgErr.Code)]; ok {
			return msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError formats err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
// Error returns the user message; Unwrap returns the technical error.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
