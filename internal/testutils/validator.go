package testutils

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

var recordValidator = validator.New()

// RequireValidRecord fails the test when record breaks its validate tags.
// Stage tests use it to check that what a stage writes would be accepted
// when the next stage reads it back.
func RequireValidRecord(t testing.TB, record any) {
	t.Helper()
	require.NoError(t, recordValidator.Struct(record))
}
