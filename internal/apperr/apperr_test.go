package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindSeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("order ord_1: %w", ErrConflict)
	if got := Kind(err); got != "conflict" {
		t.Fatalf("expected conflict, got %s", got)
	}
	if !errors.Is(err, ErrConflict) {
		t.Fatal("wrapped error lost its sentinel")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrValidation, http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrForbidden, http.StatusForbidden},
		{ErrInvalidTransition, http.StatusUnprocessableEntity},
		{ErrTransient, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
