package repository

import "errors"

// ErrNotFound indicates a missing entity.
var ErrNotFound = errors.New("entity not found")

// ErrConflict indicates a uniqueness violation, such as a duplicate email.
var ErrConflict = errors.New("entity already exists")
