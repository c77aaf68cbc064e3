package image

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile encodes img to path. Writes are atomic: data goes to a temp
// file in the same directory which is then renamed into place.
func WriteFile(path string, img *Image) error {
	raw, err := Marshal(img)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("image write mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cimg-tmp-*")
	if err != nil {
		return fmt.Errorf("image write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("image write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("image write close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("image write rename: %w", err)
	}
	return nil
}

// ReadFile loads and verifies an image from path.
func ReadFile(path string) (*Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image read %s: %w", path, err)
	}
	img, err := Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("image read %s: %w", path, err)
	}
	return img, nil
}
