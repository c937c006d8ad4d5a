package cloudchannel

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/tobsai/inksight/internal/docid"
)

// DownloadDocument requests a signed blob URL, fetches the archive, and
// parses its three artifact kinds by convention: the metadata record
// (<id>.metadata, JSON), the content record (<id>.content, JSON including
// pages[]), and stroke blobs keyed by <pageId>.rm. Fails with
// ErrInvalidArchive if the archive lacks the metadata or content record.
func (c *Channel) DownloadDocument(ctx context.Context, id docid.DocumentID) (*DownloadedDocument, error) {
	endpoint, err := c.ensureEndpoint(ctx)
	if err != nil {
		return nil, err
	}

	blobURL, err := c.requestBlobURL(ctx, endpoint, id)
	if err != nil {
		return nil, err
	}

	archiveBytes, err := c.fetchBlob(ctx, blobURL)
	if err != nil {
		return nil, err
	}

	return parseArchive(archiveBytes, id)
}

func (c *Channel) requestBlobURL(ctx context.Context, endpoint string, id docid.DocumentID) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, endpoint+"/documents/"+id.String()+"/download-blob-url", nil, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed struct {
		URL string `json:"url"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("cloudchannel: decoding blob-url response: %w", err)
	}

	return parsed.URL, nil
}

// fetchBlob retrieves a pre-authenticated blob URL. No Authorization
// header is attached — the URL itself carries the grant.
func (c *Channel) fetchBlob(ctx context.Context, blobURL string) ([]byte, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, blobURL, nil, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// parseArchive unpacks a zip archive into its three artifact kinds.
func parseArchive(archiveBytes []byte, id docid.DocumentID) (*DownloadedDocument, error) {
	reader, err := zip.NewReader(bytes.NewReader(archiveBytes), int64(len(archiveBytes)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}

	doc := &DownloadedDocument{}
	prefix := id.String()

	for _, f := range reader.File {
		name := path.Base(f.Name)

		switch {
		case name == prefix+".metadata":
			doc.Metadata, err = readZipFile(f)
		case name == prefix+".content":
			doc.Content, err = readZipFile(f)
		case name == prefix+".pdf":
			var data []byte
			data, err = readZipFileBytes(f)
			doc.PDF = data
		case strings.HasSuffix(name, ".rm"):
			var data []byte
			data, err = readZipFileBytes(f)
			doc.Pages = append(doc.Pages, PageBlob{PageID: strings.TrimSuffix(name, ".rm"), Data: data})
		}

		if err != nil {
			return nil, fmt.Errorf("%w: reading %q: %w", ErrInvalidArchive, f.Name, err)
		}
	}

	if doc.Metadata == nil || doc.Content == nil {
		return nil, ErrInvalidArchive
	}

	return doc, nil
}

func readZipFile(f *zip.File) (json.RawMessage, error) {
	data, err := readZipFileBytes(f)
	if err != nil {
		return nil, err
	}

	return json.RawMessage(data), nil
}

func readZipFileBytes(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}
