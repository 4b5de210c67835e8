package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/loom/internal/document"
)

const maxAssetSize = 10 << 20 // 10 MB

// imageTypes maps accepted MIME types to their canonical extension.
var imageTypes = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

var errBlockedHost = errors.New("blocked host")

type assetResult struct {
	AssetID  string `json:"assetId"`
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Marker   string `json:"marker"`
	ImageTag string `json:"imageTag"`
}

// fetched is a downloaded or decoded asset before it is stored.
type fetched struct {
	data     []byte
	mimeType string
}

func (s *Server) uploadAsset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var f fetched
	if strings.HasPrefix(rawURL, "data:") {
		f, err = decodeDataURI(rawURL)
	} else {
		f, err = download(ctx, rawURL)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if f.mimeType, err = checkContent(f); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	name := assetName(req.GetString("filename", ""), rawURL, f.mimeType)
	asset, err := s.svc.PutAsset(ctx, name, f.mimeType, f.data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store asset: %v", err)), nil
	}

	marker := document.AssetScheme + asset.ID
	out, _ := json.Marshal(assetResult{
		AssetID:  asset.ID,
		Name:     asset.Name,
		MIMEType: asset.MIMEType,
		Marker:   marker,
		ImageTag: fmt.Sprintf(`<img src="%s" alt="%s">`, marker, html.EscapeString(asset.Name)),
	})
	return mcp.NewToolResultText(string(out)), nil
}

// decodeDataURI parses a base64 data:<mediatype>;base64,<data> URI.
func decodeDataURI(uri string) (fetched, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return fetched{}, errors.New("invalid data URI: missing comma separator")
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return fetched{}, errors.New("only base64 data URIs are supported")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return fetched{}, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	mt, _, _ := mime.ParseMediaType(mediaType)
	return fetched{data: data, mimeType: mt}, nil
}

// download fetches an http(s) URL. Loopback and metadata hosts are refused,
// including on redirects.
func download(ctx context.Context, rawURL string) (fetched, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fetched{}, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fetched{}, fmt.Errorf("unsupported scheme: %s (only http/https)", u.Scheme)
	}
	if err := checkHost(u.Hostname()); err != nil {
		return fetched{}, err
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects (max 5)")
			}
			return checkHost(r.URL.Hostname())
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fetched{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fetched{}, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fetched{}, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize+1))
	if err != nil {
		return fetched{}, fmt.Errorf("read body failed: %w", err)
	}
	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return fetched{data: data, mimeType: mt}, nil
}

func checkHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("%w: %s", errBlockedHost, host)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil //nolint:nilerr // DNS failures surface from the client
		}
		ip = ips[0]
	}
	if ip.IsLoopback() || ip.IsUnspecified() {
		return fmt.Errorf("%w: loopback address %s", errBlockedHost, host)
	}
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("%w: cloud metadata address %s", errBlockedHost, host)
	}
	return nil
}

// checkContent enforces the size limit, verifies the bytes are an accepted
// image type and returns that type. Generic declared types are sniffed.
func checkContent(f fetched) (string, error) {
	if len(f.data) > maxAssetSize {
		return "", fmt.Errorf("file too large: exceeds %d bytes", maxAssetSize)
	}
	if f.mimeType == "image/svg+xml" {
		head := f.data[:min(len(f.data), 1024)]
		if !bytes.Contains(head, []byte("<svg")) {
			return "", errors.New("content does not appear to be a valid SVG (missing <svg tag)")
		}
		return f.mimeType, nil
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(f.data))
	if _, ok := imageTypes[sniffed]; !ok {
		return "", fmt.Errorf("unsupported content type: %s (allowed: png, jpeg, gif, webp, svg)", sniffed)
	}
	if f.mimeType != "" && f.mimeType != "application/octet-stream" && f.mimeType != sniffed {
		return "", fmt.Errorf("content does not match declared type %s (detected: %s)", f.mimeType, sniffed)
	}
	return sniffed, nil
}

// assetName picks the stored name: the explicit filename, else the last URL
// path segment, else a random id with the type's extension.
func assetName(explicit, rawURL, mimeType string) string {
	name := path.Base(strings.ReplaceAll(explicit, `\`, "/"))
	if explicit == "" && !strings.HasPrefix(rawURL, "data:") {
		if u, err := url.Parse(rawURL); err == nil {
			name = path.Base(u.Path)
		}
	}
	if name == "" || name == "." || name == "/" || !strings.Contains(name, ".") {
		ext := imageTypes[mimeType]
		if ext == "" {
			ext = ".bin"
		}
		name = uuid.NewString() + ext
	}
	return name
}
