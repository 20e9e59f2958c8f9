package auth

// RequireAdmin returns ErrForbidden unless the identity belongs to an admin.
func (id Identity) RequireAdmin() error {
	if !id.User.IsAdmin {
		return ErrForbidden
	}
	return nil
}

// UserID returns a pointer suitable for nullable audit references.
func (id Identity) UserID() *int64 {
	v := id.User.ID
	return &v
}
