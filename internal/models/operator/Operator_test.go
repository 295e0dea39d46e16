package operator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestSetAndCheckPassword(t *testing.T) {
	o := &Operator{Username: "ops"}
	require.NoError(t, o.SetPassword("hunter2"))
	assert.NotEqual(t, "hunter2", o.EncryptedPassword)

	assert.NoError(t, o.CheckPassword("hunter2"))
	assert.ErrorIs(t, o.CheckPassword("wrong"), bcrypt.ErrMismatchedHashAndPassword)
}

func TestAuthenticate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	o := New("ops", string(hash))
	require.NotNil(t, o)

	assert.NoError(t, o.Authenticate("ops", "hunter2"))
	assert.ErrorIs(t, o.Authenticate("ops", "nope"), ErrInvalidCredentials)
	assert.ErrorIs(t, o.Authenticate("root", "hunter2"), ErrInvalidCredentials)
}

func TestNilOperatorRejectsLogin(t *testing.T) {
	o := New("", "")
	assert.Nil(t, o)
	assert.ErrorIs(t, o.Authenticate("ops", "hunter2"), ErrNoOperator)
}
