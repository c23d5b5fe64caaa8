// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package persistence

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/mod/semver"
)

// SchemaVersion is the archive format version. Import accepts any
// archive whose major version matches.
const SchemaVersion = "v1.0.0"

// manifestName is the manifest entry inside an archive.
const manifestName = "manifest.json"

// streamPrefix namespaces stream entries inside an archive.
const streamPrefix = "streams/"

// ===== Archive Format =====

// Manifest describes an archive's contents. It is stored as the
// final entry of the tarball.
type Manifest struct {
	// SchemaVersion is the archive format version, e.g. "v1.0.0".
	SchemaVersion string `json:"schema_version"`

	// CreatedAt is when the export ran.
	CreatedAt time.Time `json:"created_at"`

	// Files lists every exported stream.
	Files []ManifestFile `json:"files"`
}

// ManifestFile is one exported stream.
type ManifestFile struct {
	// Path is the store-relative stream path.
	Path string `json:"path"`

	// Checksum is the hex SHA-256 of the stream at export time.
	Checksum string `json:"checksum"`

	// Size is the stream size in bytes.
	Size int64 `json:"size"`
}

// ExportReport summarizes a completed export.
type ExportReport struct {
	// ArchivePath is where the archive was written.
	ArchivePath string

	// Files is the number of streams exported.
	Files int

	// Bytes is the total uncompressed stream bytes.
	Bytes int64
}

// ImportFailure records one stream that could not be imported.
type ImportFailure struct {
	// Path is the store-relative stream path.
	Path string

	// Reason describes why the stream was left untouched.
	Reason string
}

// ImportReport summarizes a completed import.
type ImportReport struct {
	// Total is the number of streams listed in the manifest.
	Total int

	// Imported is the number of streams written to the store.
	Imported int

	// Skipped is the number of streams whose live checksum matched
	// the ledger, so no writes were performed.
	Skipped int

	// Failures lists streams that were aborted. A failure affects
	// only its own stream.
	Failures []ImportFailure
}

// Failed returns the number of aborted streams.
func (r ImportReport) Failed() int {
	return len(r.Failures)
}

// ===== Export =====

// ExportTo writes every stream to a gzip tarball at path and then
// records each stream's checksum in the ledger. The ledger is only
// updated after the archive has been renamed into place, so a failed
// export never advances it.
//
// Inputs:
//   - ctx: cancellation. Checked between streams.
//   - path: destination archive path. Parent directories are created.
//
// Outputs:
//   - ExportReport: counts for the completed export.
//   - error: if the archive could not be written.
func (s *Store) ExportTo(ctx context.Context, path string) (ExportReport, error) {
	streams, err := s.List()
	if err != nil {
		return ExportReport{}, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ExportReport{}, fmt.Errorf("create archive directory: %w", err)
	}
	tempFile, err := os.CreateTemp(dir, ".archive-*.tmp")
	if err != nil {
		return ExportReport{}, fmt.Errorf("create temp archive: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	gz := gzip.NewWriter(tempFile)
	tw := tar.NewWriter(gz)

	manifest := Manifest{
		SchemaVersion: SchemaVersion,
		CreatedAt:     time.Now().UTC(),
	}
	sums := make(map[string]string, len(streams))
	var totalBytes int64

	for _, rel := range streams {
		if err := ctx.Err(); err != nil {
			return ExportReport{}, err
		}
		data, err := s.ReadRaw(rel)
		if err != nil {
			return ExportReport{}, err
		}
		sum := checksumBytes(data)
		if err := writeTarEntry(tw, streamPrefix+rel, data); err != nil {
			return ExportReport{}, err
		}
		manifest.Files = append(manifest.Files, ManifestFile{
			Path:     rel,
			Checksum: sum,
			Size:     int64(len(data)),
		})
		sums[rel] = sum
		totalBytes += int64(len(data))
	}

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return ExportReport{}, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeTarEntry(tw, manifestName, manifestData); err != nil {
		return ExportReport{}, err
	}

	if err := tw.Close(); err != nil {
		return ExportReport{}, fmt.Errorf("close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return ExportReport{}, fmt.Errorf("close gzip writer: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return ExportReport{}, fmt.Errorf("sync archive: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return ExportReport{}, fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return ExportReport{}, fmt.Errorf("rename archive: %w", err)
	}
	success = true

	if err := s.recordChecksums(sums); err != nil {
		return ExportReport{}, err
	}

	s.logger.Info("history export complete",
		slog.String("archive", path),
		slog.Int("files", len(streams)),
		slog.Int64("bytes", totalBytes))

	return ExportReport{
		ArchivePath: path,
		Files:       len(streams),
		Bytes:       totalBytes,
	}, nil
}

// writeTarEntry appends one regular file to the tarball.
func writeTarEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now().UTC(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write tar entry for %s: %w", name, err)
	}
	return nil
}

// ===== Import =====

// ImportFrom restores streams from an archive produced by ExportTo.
//
// Per stream, import first compares the live file's checksum against
// the checksum recorded at the end of the last export: a match means
// the file is unchanged and the stream is skipped with zero writes.
// Otherwise the live stream is cleared and rewritten from the
// archive. A failed clear aborts that stream only; the rest of the
// import proceeds.
//
// Inputs:
//   - ctx: cancellation. Checked between streams.
//   - path: archive to read.
//
// Outputs:
//   - ImportReport: per-stream outcomes.
//   - error: if the archive itself is unreadable or its schema major
//     version is unsupported (wraps ErrSchemaVersion).
func (s *Store) ImportFrom(ctx context.Context, path string) (ImportReport, error) {
	entries, err := readArchive(path)
	if err != nil {
		return ImportReport{}, err
	}

	manifestData, ok := entries[manifestName]
	if !ok {
		return ImportReport{}, fmt.Errorf("archive missing %s", manifestName)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return ImportReport{}, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if !semver.IsValid(manifest.SchemaVersion) ||
		semver.Major(manifest.SchemaVersion) != semver.Major(SchemaVersion) {
		return ImportReport{}, fmt.Errorf("%w: archive has %q, this build reads %s",
			ErrSchemaVersion, manifest.SchemaVersion, semver.Major(SchemaVersion))
	}

	report := ImportReport{Total: len(manifest.Files)}
	fail := func(rel, reason string) {
		report.Failures = append(report.Failures, ImportFailure{Path: rel, Reason: reason})
		s.logger.Warn("import stream aborted",
			slog.String("path", rel),
			slog.String("reason", reason))
	}

	for _, entry := range manifest.Files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		payload, ok := entries[streamPrefix+entry.Path]
		if !ok {
			fail(entry.Path, "archive entry missing")
			continue
		}
		if checksumBytes(payload) != entry.Checksum {
			fail(entry.Path, "archive checksum mismatch")
			continue
		}

		exists, err := s.Exists(entry.Path)
		if err != nil {
			fail(entry.Path, err.Error())
			continue
		}
		if exists {
			live, err := s.Checksum(entry.Path)
			if err != nil {
				fail(entry.Path, err.Error())
				continue
			}
			recorded, found, err := s.RecordedChecksum(entry.Path)
			if err != nil {
				fail(entry.Path, err.Error())
				continue
			}
			if found && live == recorded {
				report.Skipped++
				continue
			}
			if err := s.ClearStream(entry.Path); err != nil {
				fail(entry.Path, fmt.Errorf("%w: %v", ErrClearFailed, err).Error())
				continue
			}
		}

		if err := s.WriteRaw(entry.Path, payload); err != nil {
			fail(entry.Path, err.Error())
			continue
		}
		if err := s.db.Set(ledgerPrefix+entry.Path, []byte(entry.Checksum)); err != nil {
			s.logger.Warn("ledger update after import failed",
				slog.String("path", entry.Path),
				slog.String("error", err.Error()))
		}
		report.Imported++
	}

	s.logger.Info("history import complete",
		slog.String("archive", path),
		slog.Int("total", report.Total),
		slog.Int("imported", report.Imported),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed()))

	return report, nil
}

// readArchive loads every entry of a gzip tarball into memory.
// History streams are small chat transcripts, so buffering the whole
// archive keeps import independent of entry order.
func readArchive(path string) (map[string][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open gzip reader: %w", err)
	}
	defer gz.Close()

	entries := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read tar entry %s: %w", hdr.Name, err)
		}
		entries[hdr.Name] = data
	}
	return entries, nil
}
