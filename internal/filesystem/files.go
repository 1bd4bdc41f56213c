package filesystem

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Exists reports whether path names an existing file.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Size returns the size of the file at path.
func Size(path string) (uint64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return uint64(fi.Size()), nil
}

// RemoveFile removes path. A missing file is not an error.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// CopyFile copies src to dst, replacing dst. The data is written to a
// temporary file next to dst and renamed into place, so dst is never left
// half written.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	tmp := out.Name()
	defer os.Remove(tmp)

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s -> %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to copy %s -> %s: %w", src, dst, err)
	}
	if err := os.Chmod(tmp, fi.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to change file permissions: %v", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("failed to copy %s -> %s: %w", src, dst, err)
	}
	return nil
}

// ImageCandidates lists where a pristine copy of dest may be found in
// imagesDir: the same base name, then with a ".backup" suffix.
func ImageCandidates(imagesDir, dest string) []string {
	name := filepath.Base(dest)
	return []string{
		filepath.Join(imagesDir, name),
		filepath.Join(imagesDir, name+".backup"),
	}
}

// RestoreFromImages copies the first existing candidate from imagesDir to
// dest. It returns the source used, or "" when no candidate exists.
func RestoreFromImages(imagesDir, dest string) (string, error) {
	for _, src := range ImageCandidates(imagesDir, dest) {
		if !Exists(src) {
			continue
		}
		if err := EnsureDirectory(filepath.Dir(dest), 0o755); err != nil {
			return "", err
		}
		if err := CopyFile(src, dest); err != nil {
			return "", err
		}
		return src, nil
	}
	return "", nil
}
