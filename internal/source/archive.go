package source

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Result archives bundle one delimited file per state plus, in national
// exports, a single file covering the whole country. Only delimited text
// entries count as candidates.

// ListArchive lists candidate data files inside a zip archive.
// Parameters:
//   - path: local path of the archive.
// Returns:
//   - []ArchiveEntry: candidate entries (csv/txt), directories excluded.
//   - error: non-nil if the archive cannot be opened.
func ListArchive(path string) ([]ArchiveEntry, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	var entries []ArchiveEntry
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(f.Name))
		if ext != ".csv" && ext != ".txt" {
			continue
		}
		entries = append(entries, ArchiveEntry{
			Path: f.Name,
			Size: int64(f.UncompressedSize64),
		})
	}
	return entries, nil
}

// PickNationalFile auto-selects the whole-country file when the choice is
// unambiguous.
// Parameters:
//   - entries: candidate entries from ListArchive.
// Returns:
//   - ArchiveEntry: the selected entry when ok is true.
//   - bool: false when the caller must disambiguate.
func PickNationalFile(entries []ArchiveEntry) (ArchiveEntry, bool) {
	if len(entries) == 1 {
		return entries[0], true
	}

	var national []ArchiveEntry
	for _, e := range entries {
		base := strings.ToUpper(strings.TrimSuffix(filepath.Base(e.Path), filepath.Ext(e.Path)))
		if strings.Contains(base, "BRASIL") || strings.HasSuffix(base, "_BR") {
			national = append(national, e)
		}
	}
	if len(national) == 1 {
		return national[0], true
	}
	return ArchiveEntry{}, false
}

// ExtractEntry extracts one archive entry into destDir.
// Parameters:
//   - archivePath: local path of the archive.
//   - entryPath: entry to extract, as listed by ListArchive.
//   - destDir: directory receiving the extracted file.
// Returns:
//   - string: local path of the extracted file.
//   - error: non-nil if the entry is missing or extraction fails.
func ExtractEntry(archivePath, entryPath, destDir string) (string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != entryPath {
			continue
		}
		src, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open archive entry: %w", err)
		}
		defer src.Close()

		destPath := filepath.Join(destDir, filepath.Base(entryPath))
		dest, err := os.Create(destPath)
		if err != nil {
			return "", fmt.Errorf("failed to create extracted file: %w", err)
		}
		defer dest.Close()

		if _, err := io.Copy(dest, src); err != nil {
			os.Remove(destPath)
			return "", fmt.Errorf("failed to extract entry: %w", err)
		}
		return destPath, nil
	}
	return "", fmt.Errorf("entry %q not found in archive", entryPath)
}
