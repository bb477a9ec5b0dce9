package apperrors_test

import (
	"errors"
	"fmt"
	"testing"

	"citysnap-backend/internal/apperrors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("disk full")
	err := apperrors.Storage("save photo", base)

	assert.Equal(t, apperrors.KindStorage, apperrors.KindOf(err))
	assert.True(t, apperrors.Is(err, apperrors.KindStorage))
	assert.False(t, apperrors.Is(err, apperrors.KindPersistence))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "save photo: disk full", err.Error())
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("ingest: %w", apperrors.Persistence("commit", errors.New("conn reset")))

	assert.Equal(t, apperrors.KindPersistence, apperrors.KindOf(err))
}

func TestKindOf_Plain(t *testing.T) {
	assert.Equal(t, apperrors.KindUnknown, apperrors.KindOf(errors.New("boom")))
	assert.False(t, apperrors.Is(nil, apperrors.KindUnknown))
}

func TestNew_NilError(t *testing.T) {
	assert.NoError(t, apperrors.New(apperrors.KindGateway, "predict", nil))
}

func TestNewf_KeepsWrappedSentinel(t *testing.T) {
	missing := errors.New("image not found")
	err := apperrors.Newf(apperrors.KindNotFound, "load image", "%w: %s", missing, "bench.jpg")

	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
	assert.ErrorIs(t, err, missing)
	assert.Equal(t, "load image: image not found: bench.jpg", err.Error())
}
