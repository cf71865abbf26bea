package fits

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SetCard stores key = 'value' in the primary header of the file at path.
// The header is rewritten in place when it still fits its blocks; otherwise
// the file is rebuilt next to the original and renamed over it.
func SetCard(path, key, value string) error {
	if err := CheckKeyword(key); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	h, err := ReadHeader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	h.Set(key, value)
	encoded := h.Bytes()

	if int64(len(encoded)) == h.Size() {
		if _, err := f.WriteAt(encoded, 0); err != nil {
			return fmt.Errorf("rewrite header of %s: %w", path, err)
		}
		return f.Sync()
	}

	st, err := f.Stat()
	if err != nil {
		return err
	}
	if _, err := f.Seek(h.Size(), io.SeekStart); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".void-*.fits")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		return err
	}
	if _, err := io.Copy(tmp, f); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(st.Mode().Perm()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// IsFlagged reports whether the header carries a non-blank value for flag.
func IsFlagged(h *Header, flag string) bool {
	c, ok := h.Get(flag)
	if !ok {
		return false
	}
	return strings.TrimSpace(c.Value) != ""
}

// WriteFile writes a FITS file consisting of the given header and data unit.
// The data is padded to a whole number of blocks.
func WriteFile(path string, h *Header, data []byte) error {
	buf := h.Bytes()
	buf = append(buf, data...)
	if rem := len(data) % blockSize; rem != 0 {
		buf = append(buf, make([]byte, blockSize-rem)...)
	}
	return os.WriteFile(path, buf, 0o644)
}
