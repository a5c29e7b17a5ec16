package registry

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "patientsync/pkg/domain-errors"
)

func TestCategoryForStatus(t *testing.T) {
	assert.Equal(t, ErrorNotFound, categoryForStatus(http.StatusNotFound))
	assert.Equal(t, ErrorRateLimited, categoryForStatus(http.StatusTooManyRequests))
	assert.Equal(t, ErrorRejected, categoryForStatus(http.StatusUnprocessableEntity))
	assert.Equal(t, ErrorProviderOutage, categoryForStatus(http.StatusBadGateway))
}

func TestToDomainError(t *testing.T) {
	t.Run("keeps registry status", func(t *testing.T) {
		err := ToDomainError(newError(ErrorRejected, http.StatusUnprocessableEntity, "sex invalid", nil), "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUpstream))
		assert.Equal(t, http.StatusUnprocessableEntity, dErrors.HTTPStatus(err))
		assert.Equal(t, "sex invalid", dErrors.MessageOf(err))
	})

	t.Run("not found keeps its code", func(t *testing.T) {
		err := ToDomainError(newError(ErrorNotFound, http.StatusNotFound, "gone", nil), "patient not found")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
		assert.Equal(t, http.StatusNotFound, dErrors.HTTPStatus(err))
		assert.Equal(t, "patient not found", dErrors.MessageOf(err))
	})

	t.Run("network failure renders 500", func(t *testing.T) {
		err := ToDomainError(newError(ErrorProviderOutage, 0, "registry unreachable", errors.New("dial")), "")
		assert.Equal(t, http.StatusInternalServerError, dErrors.HTTPStatus(err))
		assert.Equal(t, ErrorProviderOutage, GetCategory(err))
	})

	t.Run("foreign errors pass through", func(t *testing.T) {
		plain := errors.New("boom")
		assert.Same(t, plain, ToDomainError(plain, "x"))
	})
}
