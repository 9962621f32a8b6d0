package store

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// fileMode is used for every file the store writes.
const fileMode os.FileMode = 0o600

// readFile reads the file at path. A missing file is reported as ErrIO
// wrapping os.ErrNotExist so callers can tell a first run apart.
func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, ioError("read", path, err)
	}
	return b, nil
}

// readJSON reads path and decodes it into out. Decoding failures are
// reported as *ParseError.
func readJSON(path string, out any) error {
	b, err := readFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return &ParseError{Path: path, Err: err}
	}
	return nil
}

// writeJSON writes JSON via a temp file then rename.
func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, b)
}

// writeFile writes bytes via a temp file, then atomically replaces the target.
func writeFile(path string, b []byte) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ioError("mkdir", dir, err)
	}
	f, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return ioError("create", path, err)
	}
	tmp := f.Name()

	// Best-effort cleanup if anything fails before rename.
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return ioError("write", path, err)
	}
	if err := f.Chmod(fileMode); err != nil {
		_ = f.Close()
		return ioError("chmod", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return ioError("sync", path, err)
	}
	if err := f.Close(); err != nil {
		return ioError("close", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return ioError("rename", path, err)
	}
	return nil
}
