//go:build !protogen

package directory

// NewRemoteProvider is a no-op unless built with the protogen tag; the
// database-backed provider is used instead.
func NewRemoteProvider(_ string) (Provider, error) {
	return nil, nil
}
