package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SupportedExtensions lists the input file types the sandbox can read.
var SupportedExtensions = []string{".csv", ".tsv", ".txt", ".json"}

// ValidateInputs checks every path before any session work starts: the
// file must exist, be a readable regular file with a supported extension,
// and its base name must be unique since inputs share one data directory.
func ValidateInputs(paths []string) error {
	if len(paths) == 0 {
		return &InputError{Reason: "at least one input file is required"}
	}
	seen := make(map[string]string)
	for _, p := range paths {
		if err := validateInput(p); err != nil {
			return err
		}
		base := filepath.Base(p)
		if prev, dup := seen[base]; dup {
			return &InputError{Path: p, Reason: fmt.Sprintf("file name collides with %s", prev)}
		}
		seen[base] = p
	}
	return nil
}

func validateInput(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	supported := false
	for _, e := range SupportedExtensions {
		if ext == e {
			supported = true
			break
		}
	}
	if !supported {
		return &InputError{Path: path, Reason: fmt.Sprintf("unsupported file type %q (want %s)", ext, strings.Join(SupportedExtensions, ", "))}
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &InputError{Path: path, Reason: "file does not exist"}
		}
		return &InputError{Path: path, Reason: err.Error()}
	}
	if !info.Mode().IsRegular() {
		return &InputError{Path: path, Reason: "not a regular file"}
	}

	f, err := os.Open(path)
	if err != nil {
		return &InputError{Path: path, Reason: "file is not readable"}
	}
	defer f.Close()
	var probe [1]byte
	if _, err := f.Read(probe[:]); err != nil && err != io.EOF {
		return &InputError{Path: path, Reason: "file is not readable"}
	}
	return nil
}

// copyInput copies src into dir under its base name.
func copyInput(src, dir string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open input %s: %w", src, err)
	}
	defer in.Close()

	dst := filepath.Join(dir, filepath.Base(src))
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}
