package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/ZanzyTHEbar/virtual-prefs/vprefs/store/common"
	"github.com/ZanzyTHEbar/virtual-prefs/vprefs/store/serializer"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// quarantineMarker sits between the data file name and a random suffix when a
// malformed data file is moved aside.
const quarantineMarker = ".corrupt."

// FileOps performs the low-level file operations behind a node: loading and
// atomically replacing data files, timestamps, and directory teardown.
type FileOps struct {
	fs afero.Fs
}

// NewFileOps creates a new file operations instance
func NewFileOps(fsys afero.Fs) *FileOps {
	return &FileOps{fs: fsys}
}

// LoadMap reads and parses a data file. It returns the file's modification
// time in Unix milliseconds as observed before reading. A missing file yields
// common.ErrNotFound; a malformed one a *common.FormatError carrying the path.
func (fo *FileOps) LoadMap(path string) (map[string]string, int64, error) {
	info, err := fo.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", common.ErrNotFound, path)
		}
		return nil, 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	modTime := info.ModTime().UnixMilli()

	data, err := afero.ReadFile(fo.fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, modTime, fmt.Errorf("%w: %s", common.ErrNotFound, path)
		}
		return nil, modTime, fmt.Errorf("failed to read %s: %w", path, err)
	}

	m, err := serializer.Unmarshal(data)
	if err != nil {
		var fe *common.FormatError
		if errors.As(err, &fe) {
			fe.Path = path
			return nil, modTime, fe
		}
		return nil, modTime, err
	}
	return m, modTime, nil
}

// WriteMapAtomic serialises m into tmpPath, syncs it and renames it over
// path. On failure the previous contents of path are untouched and the temp
// file is removed best-effort.
func (fo *FileOps) WriteMapAtomic(path, tmpPath string, m map[string]string, perm os.FileMode) error {
	data, err := serializer.Marshal(m)
	if err != nil {
		return common.NewBackingStoreError("encode", path, err)
	}

	f, err := fo.fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return common.NewBackingStoreError("create temp file", tmpPath, err)
	}

	success := false
	defer func() {
		if !success {
			_ = f.Close()
			_ = fo.fs.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return common.NewBackingStoreError("write temp file", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		return common.NewBackingStoreError("sync temp file", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return common.NewBackingStoreError("close temp file", tmpPath, err)
	}

	if err := fo.fs.Rename(tmpPath, path); err != nil {
		return common.NewBackingStoreError("rename", tmpPath+" -> "+path, err)
	}

	success = true
	return nil
}

// ModMillis returns the modification time of path in Unix milliseconds, or 0
// if it cannot be determined.
func (fo *FileOps) ModMillis(path string) int64 {
	info, err := fo.fs.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixMilli()
}

// SetModMillis sets both access and modification time of path.
func (fo *FileOps) SetModMillis(path string, millis int64) error {
	t := time.UnixMilli(millis)
	if err := fo.fs.Chtimes(path, t, t); err != nil {
		return fmt.Errorf("failed to set modification time of %s: %w", path, err)
	}
	return nil
}

// Touch creates path if it does not exist yet.
func (fo *FileOps) Touch(path string, perm os.FileMode) error {
	f, err := fo.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f.Close()
}

// DirExists reports whether path exists and is a directory.
func (fo *FileOps) DirExists(path string) bool {
	ok, err := afero.DirExists(fo.fs, path)
	return err == nil && ok
}

// CreateDirectory creates a directory and any missing parents
func (fo *FileOps) CreateDirectory(path string, perm os.FileMode) error {
	if err := fo.fs.MkdirAll(path, perm); err != nil {
		return common.NewBackingStoreError("create directory", path, err)
	}
	return nil
}

// SubdirNames lists the names of the directories directly below path. A
// missing path is an empty listing.
func (fo *FileOps) SubdirNames(path string) ([]string, error) {
	entries, err := afero.ReadDir(fo.fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, common.NewBackingStoreError("list directory", path, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// EntryNames lists every entry directly below path.
func (fo *FileOps) EntryNames(path string) ([]string, error) {
	entries, err := afero.ReadDir(fo.fs, path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// RemoveIfExists deletes a single file, treating a missing file as success.
func (fo *FileOps) RemoveIfExists(path string) error {
	if err := fo.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveDirectory deletes an empty directory.
func (fo *FileOps) RemoveDirectory(path string) error {
	if err := fo.fs.Remove(path); err != nil {
		return common.NewBackingStoreError("remove directory", path, err)
	}
	return nil
}

// Quarantine moves a malformed data file aside under a unique name and
// returns that name.
func (fo *FileOps) Quarantine(path string) (string, error) {
	dst := path + quarantineMarker + uuid.NewString()
	if err := fo.fs.Rename(path, dst); err != nil {
		return "", fmt.Errorf("failed to quarantine %s: %w", path, err)
	}
	return dst, nil
}
