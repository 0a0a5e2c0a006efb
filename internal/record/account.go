package record

import "bytes"

// ManagedAccount is the authenticated remote identity and its
// incremental-sync cursor.
//
// ChangeToken is nil until the first successful remote listing. Once set it
// may only return to nil through an explicit account reset.
type ManagedAccount struct {
	ServiceIdentifier string
	Name              string
	Email             *string
	ChangeToken       []byte
}

// HasChangeToken reports whether an incremental listing is possible.
func (a *ManagedAccount) HasChangeToken() bool {
	return a != nil && a.ChangeToken != nil
}

// Clone returns a deep copy.
func (a *ManagedAccount) Clone() *ManagedAccount {
	if a == nil {
		return nil
	}
	out := *a
	if a.Email != nil {
		e := *a.Email
		out.Email = &e
	}
	if a.ChangeToken != nil {
		out.ChangeToken = bytes.Clone(a.ChangeToken)
	}
	return &out
}
