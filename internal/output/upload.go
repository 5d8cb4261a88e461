// Package output provides the coordinator's remote snapshot-upload sink,
// adapted from output/upload.go's S3 multipart-form upload path. Where the
// original uploaded whole-database snapshot archives to pganalyze's
// collector endpoint, this package bundles a directory of per-OU CSV files
// (internal/coordinator/sink/csvsink) and uploads the bundle to a
// configured HTTP endpoint or local directory, one call at a time; it does
// not schedule uploads itself.
package output

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/cmu-db/oucore/internal/ouerrors"
	"github.com/cmu-db/oucore/internal/telemetrylog"
)

// s3UploadResponse mirrors the original upload.go's XML response parsing
// for S3-compatible POST-policy uploads.
type s3UploadResponse struct {
	Location string
	Bucket   string
	Key      string
}

// Grant is the minimal credential shape an upload endpoint needs: either a
// local directory to copy into (for the -simulate / no-network path) or a
// presigned S3 POST form.
type Grant struct {
	ValidUntil time.Time
	LocalDir   string
	S3URL      string
	S3Fields   map[string]string
}

// UploadBundle uploads data under filename, choosing a local copy when
// grant.LocalDir is set and grant.S3URL is empty (so demos and tests never
// need network access) and an S3-compatible multipart POST otherwise - the
// same branching
// output/upload.go's uploadSnapshot uses.
func UploadBundle(ctx context.Context, httpClient *http.Client, grant Grant, logger *telemetrylog.Logger, data bytes.Buffer, filename string) (string, error) {
	if !grant.ValidUntil.IsZero() && !grant.ValidUntil.After(time.Now()) {
		return "", errors.Wrap(ouerrors.ErrConfiguration, "upload grant has expired")
	}

	if grant.S3URL == "" && grant.LocalDir != "" {
		location := filepath.Join(grant.LocalDir, filename)
		if err := os.MkdirAll(filepath.Dir(location), 0o755); err != nil {
			return "", errors.Wrapf(ouerrors.ErrPersistence, "create upload target dir: %v", err)
		}
		if err := os.WriteFile(location, data.Bytes(), 0o644); err != nil {
			return "", errors.Wrapf(ouerrors.ErrPersistence, "write local bundle: %v", err)
		}
		return location, nil
	}

	if logger != nil {
		logger.PrintVerbose("prepared upload request - size of request body: %.4f MB", float64(data.Len())/1024.0/1024.0)
	}
	return uploadToS3(ctx, httpClient, grant.S3URL, grant.S3Fields, data.Bytes(), filename)
}

func uploadToS3(ctx context.Context, httpClient *http.Client, s3URL string, s3Fields map[string]string, data []byte, filename string) (string, error) {
	var formBytes bytes.Buffer
	writer := multipart.NewWriter(&formBytes)

	for key, val := range s3Fields {
		if err := writer.WriteField(key, val); err != nil {
			return "", errors.Wrap(ouerrors.ErrTransient, err.Error())
		}
	}

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", errors.Wrap(ouerrors.ErrTransient, err.Error())
	}
	if _, err := part.Write(data); err != nil {
		return "", errors.Wrap(ouerrors.ErrTransient, err.Error())
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s3URL, &formBytes)
	if err != nil {
		return "", errors.Wrap(ouerrors.ErrConfiguration, err.Error())
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(ouerrors.ErrTransient, "upload request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrapf(ouerrors.ErrTransient, "read upload response: %v", err)
	}

	if resp.StatusCode != http.StatusCreated {
		return "", errors.Wrapf(ouerrors.ErrTransient, "bad upload status %s (want 201 Created), body: %s", resp.Status, body)
	}

	var s3Resp s3UploadResponse
	if err := xml.Unmarshal(body, &s3Resp); err != nil {
		return "", errors.Wrapf(ouerrors.ErrTransient, "parse upload response: %v", err)
	}
	return s3Resp.Key, nil
}

// BundleDirectory walks dir (non-recursively - csvsink writes a flat file
// per OU) and concatenates each CSV into a single buffer with a manifest
// line per file, for a single UploadBundle call per flush interval.
func BundleDirectory(dir string) (bytes.Buffer, error) {
	var buf bytes.Buffer
	entries, err := os.ReadDir(dir)
	if err != nil {
		return buf, errors.Wrapf(ouerrors.ErrPersistence, "read output dir %s: %v", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".csv" {
			continue
		}
		fmt.Fprintf(&buf, "--- %s ---\n", e.Name())
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return buf, errors.Wrapf(ouerrors.ErrPersistence, "open %s: %v", e.Name(), err)
		}
		if _, err := io.Copy(&buf, f); err != nil {
			f.Close()
			return buf, errors.Wrapf(ouerrors.ErrPersistence, "read %s: %v", e.Name(), err)
		}
		f.Close()
	}
	return buf, nil
}
