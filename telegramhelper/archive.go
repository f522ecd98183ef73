package telegramhelper

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// FetchSessionArchive unpacks a gzipped TDLib session tarball into targetDir.
// src may be an http(s) URL or a path on the local filesystem.
func FetchSessionArchive(ctx context.Context, src, targetDir string) error {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		f, err := os.Open(strings.TrimPrefix(src, "file://"))
		if err != nil {
			return fmt.Errorf("failed to open session archive: %w", err)
		}
		defer f.Close()
		return extractTarball(f, targetDir)
	}
	return downloadAndExtractTarball(ctx, src, targetDir)
}

func downloadAndExtractTarball(ctx context.Context, url, targetDir string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")
	req.Header.Set("Accept", "*/*")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("non-200 status returned: %v", resp.Status)
	}

	return extractTarball(resp.Body, targetDir)
}

// extractTarball writes the directories and regular files of a gzipped
// tarball under targetDir. Entries that would land outside targetDir are
// rejected; other entry types are skipped.
func extractTarball(reader io.Reader, targetDir string) error {
	gzReader, err := gzip.NewReader(reader)
	if err != nil {
		return err
	}
	defer gzReader.Close()

	root, err := filepath.Abs(targetDir)
	if err != nil {
		return err
	}

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		targetPath := filepath.Join(root, header.Name)
		if targetPath != root && !strings.HasPrefix(targetPath, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes target directory", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return err
			}
			if err := writeEntry(targetPath, tarReader); err != nil {
				return err
			}
		default:
			log.Debug().Msgf("Ignoring unknown file type: %s", header.Name)
		}
	}
}

func writeEntry(path string, r io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// PackSessionArchive writes the .tdlib tree under root as a gzipped tarball
// to out. Downloaded media under .tdlib/files is left out.
func PackSessionArchive(root, out string) error {
	base := filepath.Join(root, ".tdlib")
	if _, err := os.Stat(base); err != nil {
		return fmt.Errorf("no TDLib session under %s: %w", root, err)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	walkErr := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, ".tdlib/files/") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})

	twErr := tw.Close()
	gzErr := gz.Close()
	fErr := f.Close()
	for _, err := range []error{walkErr, twErr, gzErr, fErr} {
		if err != nil {
			return err
		}
	}
	return nil
}
