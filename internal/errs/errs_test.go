package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ingestpipe/ingestpipe/pkg/models"
)

func TestSetupError_IsFatalSetup(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewSetupError("ensure indexes", cause)

	assert.True(t, errors.Is(err, ErrFatalSetup))
	assert.True(t, IsFatalSetup(err))
	assert.False(t, IsBatchFailure(err))
	assert.Contains(t, err.Error(), "ensure indexes")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestBatchError_IsBatchFailure(t *testing.T) {
	cause := errors.New("duplicate key")
	err := NewBatchError(models.SourceA, 2, cause)

	assert.True(t, errors.Is(err, ErrBatchFailure))
	assert.True(t, IsBatchFailure(err))
	assert.False(t, IsFatalSetup(err))
	assert.Contains(t, err.Error(), "batch 2")
	assert.Contains(t, err.Error(), string(models.SourceA))
}
