// Package operator contains the Operator account used to authenticate remote commands to the status server.
// The password is only ever held as a bcrypt hash, normally supplied through STATUS_OPERATOR_PASSWORD_HASH.
package operator
