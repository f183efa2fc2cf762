package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	ReaderID string  `json:"reader_id" validate:"required"`
	Mode     string  `json:"mode" validate:"omitempty,oneof=fixed minmax"`
	Limit    int     `json:"limit" validate:"gte=0,lte=100"`
	Link     string  `json:"url" validate:"omitempty,url"`
	Score    float64 `validate:"min=0"`
}

func TestStructOK(t *testing.T) {
	assert.NoError(t, Struct(request{ReaderID: "r1", Mode: "fixed", Limit: 10}))
}

func TestStructErrors(t *testing.T) {
	err := Struct(request{Mode: "other", Limit: 101, Link: "not a url", Score: -1})
	require.Error(t, err)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 5)

	assert.Equal(t, "reader_id", verr.Fields[0].Field)
	assert.Equal(t, "reader_id is required", verr.Fields[0].Message)
	assert.Equal(t, "mode must be one of: fixed minmax", verr.Fields[1].Message)
	assert.Equal(t, "limit must be less than or equal to 100", verr.Fields[2].Message)
	assert.Equal(t, "url must be a valid URL", verr.Fields[3].Message)
	assert.Equal(t, "Score must be at least 0", verr.Fields[4].Message)
	assert.Contains(t, err.Error(), "; ")
}

func TestValidatorIsShared(t *testing.T) {
	assert.Same(t, Validator(), Validator())
}
