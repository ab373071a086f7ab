package tiger

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/loamworks/tessera/internal/fetcher"
)

// DefaultFTPBase is the anonymous Census FTP mirror for TIGER archives.
const DefaultFTPBase = "ftp://ftp2.census.gov/geo/tiger"

// Downloader fetches and extracts PLACE archives. FTP is tried first; any
// FTP failure falls back to HTTPS against BaseURL.
type Downloader struct {
	FTP     fetcher.Fetcher
	HTTP    fetcher.Fetcher
	FTPBase string // defaults to DefaultFTPBase
	BaseURL string // e.g. https://www2.census.gov/geo/tiger
	Year    int
}

// PlaceShapefile downloads the PLACE archive for one state and returns the
// extracted .shp path. An archive already present in destDir with content is
// reused, so re-running an import does not re-download.
func (d *Downloader) PlaceShapefile(ctx context.Context, stateFIPS, destDir string) (string, error) {
	log := zap.L().With(
		zap.String("component", "tiger.download"),
		zap.String("state_fips", stateFIPS),
		zap.Int("year", d.Year),
	)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiger: create dest dir")
	}

	zipName := PlaceZipName(d.Year, stateFIPS)
	zipPath := filepath.Join(destDir, zipName)

	if info, err := os.Stat(zipPath); err == nil && info.Size() > 0 {
		log.Debug("zip already exists, skipping download", zap.String("path", zipPath))
	} else if err := d.fetchZip(ctx, log, stateFIPS, zipPath); err != nil {
		return "", err
	}

	extractDir := filepath.Join(destDir, strings.TrimSuffix(zipName, ".zip"))
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiger: create extract dir")
	}
	if _, err := fetcher.ExtractZIP(zipPath, extractDir); err != nil {
		return "", eris.Wrap(err, "tiger: extract archive")
	}

	shpPath, err := findFileByExt(extractDir, ".shp")
	if err != nil {
		return "", eris.Wrap(err, "tiger: find .shp file")
	}
	return shpPath, nil
}

// fetchZip writes the archive for one state to zipPath, preferring the FTP
// mirror.
func (d *Downloader) fetchZip(ctx context.Context, log *zap.Logger, stateFIPS, zipPath string) error {
	if d.FTP != nil {
		ftpBase := d.FTPBase
		if ftpBase == "" {
			ftpBase = DefaultFTPBase
		}
		url := PlaceURL(ftpBase, d.Year, stateFIPS)
		log.Info("downloading PLACE shapefile", zap.String("url", url))
		_, err := d.FTP.DownloadToFile(ctx, url, zipPath)
		if err == nil {
			return nil
		}
		log.Warn("ftp download failed, falling back to https", zap.Error(err))
		// Drop any partial file before the fallback writes.
		_ = os.Remove(zipPath)
	}

	if d.HTTP == nil {
		return eris.New("tiger: no http fetcher configured")
	}
	url := PlaceURL(d.BaseURL, d.Year, stateFIPS)
	log.Info("downloading PLACE shapefile", zap.String("url", url))
	if _, err := d.HTTP.DownloadToFile(ctx, url, zipPath); err != nil {
		return eris.Wrap(err, "tiger: download shapefile")
	}
	return nil
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}
