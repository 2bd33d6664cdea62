package cql

import "rhema/internal/rherrors"

func newSyntaxError(offset int, message string) error {
	return &rherrors.InvalidQuery{Offset: offset, Message: message}
}
