package rdo

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorError(t *testing.T) {
	err := Error{
		Type:    ErrorTypeNotFound,
		Message: "users: no matching row",
	}

	expected := "not_found: users: no matching row"
	if err.Error() != expected {
		t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
	}
}

func TestErrorWithCause(t *testing.T) {
	cause := errors.New("database connection failed")
	err := NewErrorWithCause(ErrorTypeDatabase, "users: insert", cause)

	expectedMsg := "database: users: insert (caused by: database connection failed)"
	if err.Error() != expectedMsg {
		t.Errorf("Expected error message '%s', got '%s'", expectedMsg, err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to find the cause")
	}
	if err.Unwrap() != cause {
		t.Error("Expected Unwrap to return the cause")
	}
}

func TestErrorIs(t *testing.T) {
	err := NewError(ErrorTypeIntegrity, "dangling foreign key")

	if !errors.Is(err, Error{Type: ErrorTypeIntegrity}) {
		t.Error("Expected errors of the same type to match")
	}
	if errors.Is(err, Error{Type: ErrorTypeNotFound}) {
		t.Error("Expected errors of different types not to match")
	}
}

func TestErrorPredicates(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewError(ErrorTypeNotFound, "missing"))

	tests := []struct {
		name     string
		err      error
		check    func(error) bool
		expected bool
	}{
		{"not found", NewError(ErrorTypeNotFound, "x"), IsNotFound, true},
		{"wrapped not found", wrapped, IsNotFound, true},
		{"configuration", configErrorf("bad %s", "def"), IsConfiguration, true},
		{"request", requestErrorf("no criteria found"), IsRequest, true},
		{"integrity", NewError(ErrorTypeIntegrity, "x"), IsIntegrity, true},
		{"database", NewError(ErrorTypeDatabase, "x"), IsDatabase, true},
		{"plain error", errors.New("x"), IsDatabase, false},
		{"nil", nil, IsNotFound, false},
		{"mismatch", NewError(ErrorTypeDatabase, "x"), IsRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.err); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestWrapAdapterError(t *testing.T) {
	if wrapAdapterError("users: insert", nil) != nil {
		t.Error("Expected nil to stay nil")
	}

	cause := errors.New("constraint failed")
	err := wrapAdapterError("users: insert", cause)
	if !IsDatabase(err) || !errors.Is(err, cause) {
		t.Errorf("Expected a database error wrapping the cause, got %v", err)
	}

	typed := NewError(ErrorTypeConnection, "pool exhausted")
	got := wrapAdapterError("users: insert", typed)
	if !IsConnection(got) {
		t.Errorf("Expected typed errors to keep their type, got %v", got)
	}
	expected := "connection: users: insert (caused by: connection: pool exhausted)"
	if got.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, got.Error())
	}
}
