package source

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

// writeZip creates a zip file with the given entries in a temp dir.
func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	w := zip.NewWriter(f)
	for name, content := range entries {
		entry, err := w.Create(name)
		if err != nil {
			t.Fatalf("create entry: %v", err)
		}
		if _, err := entry.Write([]byte(content)); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close zip file: %v", err)
	}
	return path
}

func TestListArchive(t *testing.T) {
	path := writeZip(t, map[string]string{
		"votacao_SP.csv": "header\nrow",
		"votacao_RJ.csv": "header\nrow",
		"leiame.pdf":     "not a data file",
	})

	entries, err := ListArchive(path)
	if err != nil {
		t.Fatalf("ListArchive: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (pdf excluded)", len(entries))
	}
}

func TestListArchiveCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zip")
	if err := os.WriteFile(path, []byte("this is not a zip"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := ListArchive(path); err == nil {
		t.Error("expected error for corrupt archive")
	}
}

func TestPickNationalFile(t *testing.T) {
	tests := []struct {
		name     string
		entries  []ArchiveEntry
		wantPath string
		wantOK   bool
	}{
		{
			name:     "single file auto-selected",
			entries:  []ArchiveEntry{{Path: "votacao_SP.csv"}},
			wantPath: "votacao_SP.csv",
			wantOK:   true,
		},
		{
			name: "national file preferred",
			entries: []ArchiveEntry{
				{Path: "votacao_candidato_SP.csv"},
				{Path: "votacao_candidato_BRASIL.csv"},
			},
			wantPath: "votacao_candidato_BRASIL.csv",
			wantOK:   true,
		},
		{
			name: "BR suffix preferred",
			entries: []ArchiveEntry{
				{Path: "votacao_SP.csv"},
				{Path: "votacao_BR.csv"},
			},
			wantPath: "votacao_BR.csv",
			wantOK:   true,
		},
		{
			name: "ambiguous state files",
			entries: []ArchiveEntry{
				{Path: "votacao_SP.csv"},
				{Path: "votacao_RJ.csv"},
			},
			wantOK: false,
		},
		{
			name: "multiple national files ambiguous",
			entries: []ArchiveEntry{
				{Path: "a_BRASIL.csv"},
				{Path: "b_BRASIL.csv"},
			},
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := PickNationalFile(tc.entries)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && got.Path != tc.wantPath {
				t.Errorf("got %q, want %q", got.Path, tc.wantPath)
			}
		})
	}
}

func TestExtractEntry(t *testing.T) {
	path := writeZip(t, map[string]string{
		"data/votacao_BRASIL.csv": "header\nrow1\nrow2",
	})
	destDir := t.TempDir()

	extracted, err := ExtractEntry(path, "data/votacao_BRASIL.csv", destDir)
	if err != nil {
		t.Fatalf("ExtractEntry: %v", err)
	}
	content, err := os.ReadFile(extracted)
	if err != nil {
		t.Fatalf("read extracted: %v", err)
	}
	if string(content) != "header\nrow1\nrow2" {
		t.Errorf("unexpected content: %q", content)
	}

	if _, err := ExtractEntry(path, "missing.csv", destDir); err == nil {
		t.Error("expected error for missing entry")
	}
}
