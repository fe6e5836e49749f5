package ingest

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jcom-dev/stipnode/internal/codec"
	"github.com/jcom-dev/stipnode/internal/geocode"
	"github.com/jcom-dev/stipnode/internal/store"
	"github.com/jcom-dev/stipnode/internal/task"
)

// LoadFormat names the archive layout the load pipeline expects.
type LoadFormat string

const (
	LoadFormatSentinel LoadFormat = "Sentinel"
	LoadFormatNaip      LoadFormat = "Naip"
)

// sentinelMetadataFile is the well-known per-archive XML file Sentinel-2
// product zips carry their acquisition timestamp in.
const sentinelMetadataFile = "MTD_MSIL1C.xml"

// LoadRequest configures one run of the load pipeline.
type LoadRequest struct {
	Album            string
	Platform         string
	Format           LoadFormat
	ArchiveRoot      string // local directory, or s3://bucket/prefix
	Precision        int
	GeocodeAlgorithm geocode.Algorithm
	ThreadCount      int
}

// Load enumerates archive entries under req.ArchiveRoot and, for each one,
// opens it via the raster codec, extracts the acquisition timestamp, and
// splits every subdataset into geocode-sized windows before routing and
// pushing each window to its DHT-assigned owner.
func Load(ctx context.Context, mgr *task.Manager, router Router, req LoadRequest) (uint64, *task.Handle, error) {
	enc, err := geocode.For(req.GeocodeAlgorithm)
	if err != nil {
		return 0, nil, err
	}
	lonInterval, latInterval, err := geocode.CellSize(req.GeocodeAlgorithm, req.Precision)
	if err != nil {
		return 0, nil, err
	}

	root := req.ArchiveRoot
	if strings.HasPrefix(root, "s3://") {
		local, err := downloadS3Archive(ctx, root)
		if err != nil {
			return 0, nil, fmt.Errorf("ingest: stage s3 archive: %w", err)
		}
		root = local
	}

	records, err := enumerateArchives(root, req.Format)
	if err != nil {
		return 0, nil, fmt.Errorf("ingest: enumerate archives: %w", err)
	}

	id, handle := runPipeline(mgr, req.ThreadCount, records, func(archivePath string) error {
		return processArchive(archivePath, req, enc, lonInterval, latInterval, router)
	})
	return id, handle, nil
}

// enumerateArchives lists the load candidates in root: zip files for
// Sentinel, tif/tiff files for Naip (single-band GeoTIFF tiles, no
// subdataset/zip structure).
func enumerateArchives(root string, format LoadFormat) ([]string, error) {
	var ext string
	switch format {
	case LoadFormatSentinel:
		ext = ".zip"
	case LoadFormatNaip:
		ext = ".tif"
	default:
		return nil, fmt.Errorf("ingest: unknown load format %q", format)
	}

	var records []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ext) ||
			(format == LoadFormatNaip && strings.EqualFold(filepath.Ext(path), ".tiff")) {
			records = append(records, path)
		}
		return nil
	})
	return records, err
}

func processArchive(archivePath string, req LoadRequest, enc geocode.Encoder, lonInterval, latInterval float64, router Router) error {
	switch req.Format {
	case LoadFormatSentinel:
		return processSentinelArchive(archivePath, req, enc, lonInterval, latInterval, router)
	case LoadFormatNaip:
		return processNaipTile(archivePath, req, enc, lonInterval, latInterval, router)
	default:
		return fmt.Errorf("ingest: unknown load format %q", req.Format)
	}
}

// processSentinelArchive mirrors original_source/impl/stipd/src/task/load/
// sentinel_2.rs: locate the product XML inside the zip, open it via the
// codec to read PRODUCT_START_TIME, then split every subdataset.
func processSentinelArchive(archivePath string, req LoadRequest, enc geocode.Encoder, lonInterval, latInterval float64, router Router) error {
	tile := strings.TrimSuffix(filepath.Base(archivePath), filepath.Ext(archivePath))

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	var metadataMember string
	for _, f := range zr.File {
		if filepath.Base(f.Name) == sentinelMetadataFile {
			metadataMember = f.Name
			break
		}
	}
	if metadataMember == "" {
		return fmt.Errorf("unable to find %s in %s", sentinelMetadataFile, archivePath)
	}

	metaDS, err := codec.Open(fmt.Sprintf("/vsizip/%s/%s", archivePath, metadataMember))
	if err != nil {
		return fmt.Errorf("open product metadata: %w", err)
	}
	defer metaDS.Close()

	startTimeStr, ok := metaDS.MetadataItem("", "PRODUCT_START_TIME")
	if !ok {
		return fmt.Errorf("start time metadata not found")
	}
	timestamp, err := time.Parse(time.RFC3339, startTimeStr)
	if err != nil {
		return fmt.Errorf("parse start time %q: %w", startTimeStr, err)
	}

	for _, sub := range metaDS.Subdatasets() {
		ds, err := codec.Open(sub.Name)
		if err != nil {
			return fmt.Errorf("open subdataset %q: %w", sub.Name, err)
		}
		err = splitAndPush(ds, req, enc, lonInterval, latInterval, router, tile, sub.Index, sub.Description, timestamp.Unix(), timestamp.Unix(), store.SourceRaw)
		ds.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// processNaipTile handles the simpler single-band NAIP layout: no zip, no
// subdatasets, and the acquisition timestamp comes from the file's mtime
// since NAIP GeoTIFF tiles do not carry a reliable embedded timestamp tag.
func processNaipTile(archivePath string, req LoadRequest, enc geocode.Encoder, lonInterval, latInterval float64, router Router) error {
	tile := strings.TrimSuffix(filepath.Base(archivePath), filepath.Ext(archivePath))

	info, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("stat %q: %w", archivePath, err)
	}
	timestamp := info.ModTime().Unix()

	ds, err := codec.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open %q: %w", archivePath, err)
	}
	defer ds.Close()

	return splitAndPush(ds, req, enc, lonInterval, latInterval, router, tile, 0, "", timestamp, timestamp, store.SourceRaw)
}

// splitAndPush is the shared tail of both load formats: split ds into
// geocode-sized windows, compute each window's coverage and geocode, drop
// zero-coverage windows, and route/push the rest. band is the subdataset's
// GDAL description (empty for single-band formats like NAIP that carry no
// subdataset structure at all).
func splitAndPush(ds *codec.Dataset, req LoadRequest, enc geocode.Encoder, lonInterval, latInterval float64, router Router, tile string, subdatasetIndex uint8, band string, startTimestamp, endTimestamp int64, source store.Source) error {
	windows, err := codec.Split(ds, lonInterval, latInterval)
	if err != nil {
		return fmt.Errorf("split: %w", err)
	}
	defer func() {
		for _, w := range windows {
			w.Dataset.Close()
		}
	}()

	for _, w := range windows {
		code, err := windowGeocode(enc, w.Window, req.Precision)
		if err != nil {
			return fmt.Errorf("encode window geocode: %w", err)
		}

		coverage, err := codec.Coverage(w.Dataset)
		if err != nil {
			return fmt.Errorf("compute coverage: %w", err)
		}
		if coverage == 0 {
			continue
		}

		m := store.Metadata{
			Album:           req.Album,
			Platform:        req.Platform,
			Geocode:         code,
			Band:            band,
			Source:          source,
			Tile:            tile,
			SubdatasetIndex: subdatasetIndex,
			StartTimestamp:  startTimestamp,
			EndTimestamp:    endTimestamp,
			PixelCoverage:   coverage,
			CloudCoverage:   store.UnknownCloudCoverage(),
		}

		if err := router.push(code, m, w.Dataset); err != nil {
			return fmt.Errorf("route/push window: %w", err)
		}
	}
	return nil
}

// downloadS3Archive stages an s3://bucket/prefix archive root to a local
// scratch directory so the rest of the load pipeline can treat it exactly
// like a local directory.
func downloadS3Archive(ctx context.Context, uri string) (string, error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	bucket := parts[0]
	prefix := ""
	if len(parts) > 1 {
		prefix = parts[1]
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	scratch, err := os.MkdirTemp("", "ingest-s3-*")
	if err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}

	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: &bucket,
		Prefix: &prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if err := downloadOneObject(ctx, client, bucket, *obj.Key, scratch, prefix); err != nil {
				return "", err
			}
		}
	}
	return scratch, nil
}

func downloadOneObject(ctx context.Context, client *s3.Client, bucket, key, scratchDir, prefix string) error {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return fmt.Errorf("get object %q: %w", key, err)
	}
	defer out.Body.Close()

	rel := strings.TrimPrefix(key, prefix)
	dest := filepath.Join(scratchDir, filepath.Base(rel))
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %q: %w", dest, err)
	}
	defer f.Close()

	if _, err := f.ReadFrom(out.Body); err != nil {
		return fmt.Errorf("write %q: %w", dest, err)
	}
	return nil
}
