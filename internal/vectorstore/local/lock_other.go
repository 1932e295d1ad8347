//go:build !unix

package local

// lockFile is a no-op where flock is unavailable; single-writer use is assumed.
func lockFile(string) (func() error, error) {
	return func() error { return nil }, nil
}
