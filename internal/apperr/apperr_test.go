package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

var errSentinel = New(CodeAlreadyConsumed, "already consumed")

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("accept: %w", New(CodeAlreadyConsumed, "credits for this lead were already consumed"))
	require.ErrorIs(t, err, errSentinel)
	require.NotErrorIs(t, err, New(CodeInsufficientCredits, ""))
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, CodeNotFound, CodeOf(fmt.Errorf("wrapped: %w", NotFound("lead"))))
	require.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestWithDetailCopies(t *testing.T) {
	base := New(CodeInsufficientCredits, "insufficient credits")
	withBal := base.WithDetail("currentBalance", 0)

	require.Nil(t, base.Details)
	require.Equal(t, 0, withBal.Details["currentBalance"])
	require.ErrorIs(t, withBal, base)
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeUnauthorized:        http.StatusUnauthorized,
		CodeForbidden:           http.StatusForbidden,
		CodeNotFound:            http.StatusNotFound,
		CodeValidation:          http.StatusBadRequest,
		CodeInsufficientCredits: http.StatusPaymentRequired,
		CodeAlreadyConsumed:     http.StatusConflict,
		CodeInvalidTransition:   http.StatusConflict,
		CodeInternal:            http.StatusInternalServerError,
	}
	for code, want := range cases {
		require.Equal(t, want, code.HTTPStatus(), code)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("conn reset")
	err := Internal(cause)
	require.ErrorIs(t, err, cause)
}
