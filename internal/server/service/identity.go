package service

// Identity is the authenticated caller of an operation. The web layer builds
// it per request; nothing in this package keeps one around.
type Identity struct {
	Username string
	Admin    bool
}
