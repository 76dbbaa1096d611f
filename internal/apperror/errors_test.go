package apperror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalsync/internal/apperror"
)

func TestStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperror.Validation("missing uid"), http.StatusBadRequest},
		{apperror.Auth("login required"), http.StatusUnauthorized},
		{apperror.Forbidden("nope"), http.StatusForbidden},
		{apperror.NotFound("no such patient"), http.StatusNotFound},
		{apperror.Conflict("busy"), http.StatusConflict},
		{apperror.NotActive("not armed"), http.StatusConflict},
		{apperror.Computation(errors.New("boom"), "ptt failed"), http.StatusInternalServerError},
		{apperror.Persistence(errors.New("disk"), "save failed"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, apperror.StatusCode(tc.err), tc.err.Error())
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", apperror.Conflict("slot busy"))
	assert.True(t, apperror.Is(err, apperror.KindConflict))
	assert.False(t, apperror.Is(err, apperror.KindValidation))
	assert.Equal(t, "slot busy", apperror.PublicMessage(err))
}

func TestPublicMessageHidesPersistenceCause(t *testing.T) {
	err := apperror.Persistence(errors.New("database is locked"), "could not save result")
	assert.Equal(t, "could not save result", apperror.PublicMessage(err))
	assert.Equal(t, "Server error.", apperror.PublicMessage(errors.New("x")))
}

func TestFromValidation(t *testing.T) {
	type body struct{ UID string }
	b := body{}
	err := apperror.FromValidation(validation.ValidateStruct(&b, validation.Field(&b.UID, validation.Required)))
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindValidation))
	assert.Contains(t, err.Error(), "UID")

	assert.NoError(t, apperror.FromValidation(nil))
}
