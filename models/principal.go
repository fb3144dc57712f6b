package models

// Principal identifies the signed-in customer. It is produced by the external
// auth layer; an empty value means nobody is signed in.
type Principal struct {
	CustomerID string
	Token      string
}

// Authenticated reports whether the principal carries a customer identity and
// a credential to present to remote services.
func (p Principal) Authenticated() bool {
	return p.CustomerID != "" && p.Token != ""
}
