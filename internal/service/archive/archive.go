package archive

import (
	"archive/zip"
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

const (
	// DefaultChecksumFunction is used to calculate archive hashes.
	DefaultChecksumFunction crypto.Hash = crypto.SHA512

	// fileMode is the mode of produced archives.
	fileMode os.FileMode = 0o644
)

var (
	errHashUnavailable = errors.New("hash function unavailable")
	errNotDirectory    = errors.New("not a directory")
)

// Info describes a produced archive.
type Info struct {
	// Path is the location of the archive on disk.
	Path string
	// Entries are the archived paths relative to the source directory, in archive order.
	Entries []string
	// Checksum is the base64 encoded DefaultChecksumFunction hash of the archive.
	Checksum string
}

// ZipDirectory writes every regular file below srcDir into a zip archive at dstPath.
// Entry names are relative to srcDir, use forward slashes and are written in lexical order.
func ZipDirectory(srcDir, dstPath string) (*Info, error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", srcDir, errNotDirectory)
	}

	entries, err := listFiles(srcDir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", srcDir, err)
	}

	if err = writeArchive(srcDir, dstPath, entries); err != nil {
		return nil, fmt.Errorf("write %s: %w", dstPath, err)
	}

	checksum, err := FileChecksum(dstPath)
	if err != nil {
		return nil, err
	}

	return &Info{
		Path:     dstPath,
		Entries:  entries,
		Checksum: base64.StdEncoding.EncodeToString(checksum),
	}, nil
}

// FileChecksum returns checksum bytes for a file using DefaultChecksumFunction.
func FileChecksum(path string) ([]byte, error) {
	if !DefaultChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := DefaultChecksumFunction.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

// listFiles returns the slash separated relative paths of regular files below root.
func listFiles(root string) ([]string, error) {
	var entries []string

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		entries = append(entries, filepath.ToSlash(rel))

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(entries)

	return entries, nil
}

func writeArchive(root, dstPath string, entries []string) (err error) {
	if err = os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil { //nolint:mnd // Standard directory mode.
		return err
	}

	out, err := os.OpenFile(filepath.Clean(dstPath), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, out.Close())
	}()

	writer := zip.NewWriter(out)

	for _, entry := range entries {
		if err = addEntry(writer, root, entry); err != nil {
			_ = writer.Close()

			return err
		}
	}

	return writer.Close()
}

func addEntry(writer *zip.Writer, root, entry string) error {
	in, err := os.Open(filepath.Join(root, filepath.FromSlash(entry)))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	//nolint:exhaustruct // Only name and method matter for deployment archives.
	w, err := writer.CreateHeader(&zip.FileHeader{
		Name:   entry,
		Method: zip.Deflate,
	})
	if err != nil {
		return err
	}

	_, err = io.Copy(w, in)

	return err
}
