// Package bundle packs a run's output directory into a single tar.gz
// archive, the shape CI systems and the publish step expect.
package bundle

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// DefaultName builds the archive file name for a run. Pipeline names may
// contain characters that are not filesystem-safe; those are replaced.
func DefaultName(pipeline string, at time.Time) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, pipeline)
	return fmt.Sprintf("%s-%s.tar.gz", safe, at.Format("20060102-150405"))
}

// Create archives every regular file under outputDir into a tar.gz file at
// destPath. Entries are slash-separated paths relative to outputDir. When
// destPath lies inside outputDir the archive skips itself. A partial
// archive left by a failed run is removed.
func Create(outputDir, destPath string) error {
	absOut, err := filepath.Abs(outputDir)
	if err != nil {
		return err
	}
	absDest, err := filepath.Abs(destPath)
	if err != nil {
		return err
	}

	info, err := os.Stat(absOut)
	if err != nil {
		return fmt.Errorf("output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path %s is not a directory", absOut)
	}

	if err := os.MkdirAll(filepath.Dir(absDest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(absDest)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}

	if err := writeArchive(f, absOut, absDest); err != nil {
		f.Close()
		os.Remove(absDest)
		return err
	}
	return f.Close()
}

func writeArchive(w io.Writer, root, exclude string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if path == exclude {
			return nil // never pack the archive into itself
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return addFile(tw, path, filepath.ToSlash(rel))
	})
	if err != nil {
		return fmt.Errorf("archiving %s: %w", root, err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	return gz.Close()
}

func addFile(tw *tar.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	if _, err := io.Copy(tw, src); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
