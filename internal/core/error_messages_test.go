package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/docmapper/internal/backend"
	"github.com/JonMunkholm/docmapper/internal/hook"
	"github.com/JonMunkholm/docmapper/internal/schema"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"mapping not found", fmt.Errorf("%w: news", ErrMappingNotFound), "MAP001"},
		{"invalid mapping", fmt.Errorf("x.yaml: %w: schema is required", ErrInvalidMapping), "MAP002"},
		{"unknown backend", fmt.Errorf("mapping x: %w", ErrUnknownBackend), "MAP003"},
		{
			"hook not found inside schema error",
			&schema.Error{Kind: schema.KindUnresolvedHook, Path: "News.fields.title", Key: "hook", Err: &hook.NotFoundError{Name: "nope"}},
			"SCH003",
		},
		{"missing required key", &schema.Error{Kind: schema.KindMissingRequired, Key: "query"}, "SCH001"},
		{"broken dependency", &schema.Error{Kind: schema.KindDependency, Key: "model", Requires: []string{"field"}}, "SCH002"},
		{"unresolved type", &schema.Error{Kind: schema.KindUnresolvedType, Path: "Nowhere"}, "SCH004"},
		{"invalid query", &schema.Error{Kind: schema.KindInvalidQuery, Key: "query"}, "SCH005"},
		{"source too large", fmt.Errorf("%w: more than 10 bytes", ErrSourceTooLarge), "SRC001"},
		{"backend error", &backend.Error{Backend: "xml", Err: errors.New("XML syntax error")}, "SRC002"},
		{"empty source", ErrEmptySource, "SRC003"},
		{"load not found", fmt.Errorf("%w: abc", ErrLoadNotFound), "LOAD001"},
		{"too many loads", ErrTooManyLoads, "LOAD002"},
		{"canceled", fmt.Errorf("materialize News: %w", context.Canceled), "LOAD003"},
		{"deadline", context.DeadlineExceeded, "LOAD004"},
		{"duplicate key text", errors.New("ERROR: duplicate key value violates unique constraint"), "DB001"},
		{"connection refused text", errors.New("dial tcp: connection refused"), "DB002"},
		{"missing table", errors.New("SQL logic error: no such table: places"), "DB005"},
		{"rate limit text", errors.New("rate limit exceeded"), "RATE001"},
		{"unknown error returns default", errors.New("some random internal error"), "ERR000"},
		{"case insensitive matching", errors.New("DEADLOCK detected"), "DB004"},
		{"pg unique violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), "DB001"},
		{"pg deadlock", &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}, "DB004"},
		{"pg lock timeout", &pgconn.PgError{Code: "55P03", Message: "could not obtain lock"}, "DB004"},
		{"pg undefined table", &pgconn.PgError{Code: "42P01", Message: `relation "places" is missing`}, "DB005"},
		{"pg unknown code uses text", &pgconn.PgError{Code: "XX000", Message: "connection reset by peer"}, "DB003"},
		{"pg unknown code no text", &pgconn.PgError{Code: "XX000", Message: "internal"}, "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(ErrTooManyLoads)

	expected := "System is busy processing other loads (Code: LOAD002). Please wait a moment and try again"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", ErrLoadNotFound, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	if got := NewUserError(nil); got != nil {
		t.Errorf("NewUserError(nil) = %v, want nil", got)
	}

	techErr := fmt.Errorf("%w: news", ErrMappingNotFound)
	userErr := NewUserError(techErr)
	if userErr.Error() != "Mapping not found" {
		t.Errorf("Error() = %q, want user message", userErr.Error())
	}
	if !errors.Is(userErr, ErrMappingNotFound) {
		t.Error("Unwrap() should expose the technical error")
	}
}
