package ingest

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/surajsub/tenant-provisioner/utils"
)

type archive int

const (
	archiveNone archive = iota
	archiveZip
	archiveTarGz
)

func archiveKind(name string) archive {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"), strings.HasSuffix(lower, ".jar"):
		return archiveZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return archiveTarGz
	default:
		return archiveNone
	}
}

// extract unpacks r into dir and returns the regular member names, sorted.
// scratchBase receives the spooled copy zip needs for random access.
func extract(kind archive, r io.Reader, scratchBase, dir string) ([]string, error) {
	var (
		members []string
		err     error
	)
	switch kind {
	case archiveZip:
		members, err = extractZip(r, scratchBase, dir)
	case archiveTarGz:
		members, err = extractTarGz(r, dir)
	default:
		return nil, fmt.Errorf("unsupported archive kind %d", kind)
	}
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, errors.New("archive contains no files")
	}
	sort.Strings(members)
	return members, nil
}

func extractZip(r io.Reader, scratchBase, dir string) ([]string, error) {
	spool, err := os.CreateTemp(scratchBase, "archive-*.zip")
	if err != nil {
		return nil, fmt.Errorf("failed to spool archive: %w", err)
	}
	defer os.Remove(spool.Name())
	defer spool.Close()

	size, err := io.Copy(spool, r)
	if err != nil {
		return nil, fmt.Errorf("failed to spool archive: %w", err)
	}
	zr, err := zip.NewReader(spool, size)
	if err != nil {
		return nil, fmt.Errorf("failed to read zip archive: %w", err)
	}

	var members []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Clean(f.Name)
		if err := extractMember(dir, name, f.Open); err != nil {
			return nil, err
		}
		members = append(members, name)
	}
	return members, nil
}

func extractTarGz(r io.Reader, dir string) ([]string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var members []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Clean(hdr.Name)
		if _, err := utils.WriteStreamFile(dir, name, tr); err != nil {
			return nil, err
		}
		members = append(members, name)
	}
	return members, nil
}

func extractMember(dir, name string, open func() (io.ReadCloser, error)) error {
	rc, err := open()
	if err != nil {
		return fmt.Errorf("failed to open archive member %s: %w", name, err)
	}
	defer rc.Close()
	_, err = utils.WriteStreamFile(dir, name, rc)
	return err
}
