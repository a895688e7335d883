package services

import "errors"

// Outcome sentinels shared by the service layer. Handlers match these with
// errors.Is and map them onto HTTP statuses; services never encode statuses
// themselves.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("already a member")
	ErrValidation       = errors.New("invalid input")
	ErrWrongEmail       = errors.New("invitation destined for a different address")
)
