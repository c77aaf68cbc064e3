//go:build !unix

package vm

func allocate(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
