package operator

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned when a username or password does not match the operator.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoOperator is returned when login is attempted on a server without a configured operator.
	ErrNoOperator = errors.New("no operator configured")
)

// Operator is the single account allowed to send commands to a running harness.
type Operator struct {
	Username          string `json:"username"`
	EncryptedPassword string `json:"-"`
}

// New returns an operator from a username and an existing bcrypt hash. An empty username or hash
// yields nil, meaning remote commands are disabled.
func New(username, encryptedPassword string) *Operator {
	if username == "" || encryptedPassword == "" {
		return nil
	}
	return &Operator{Username: username, EncryptedPassword: encryptedPassword}
}

// SetPassword sets a new password for the operator. Encrypts the password using bcrypt.
func (o *Operator) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	o.EncryptedPassword = string(hashedPassword)
	return nil
}

// CheckPassword verifies if the provided password is correct.
// Returns nil on success, or error on failure
func (o *Operator) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(o.EncryptedPassword), []byte(password))
}

// Authenticate checks both username and password. Any mismatch is reported as ErrInvalidCredentials.
func (o *Operator) Authenticate(username, password string) error {
	if o == nil {
		return ErrNoOperator
	}
	if username != o.Username {
		return ErrInvalidCredentials
	}
	if err := o.CheckPassword(password); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
