package downloader

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/tanq16/mirrordl/internal/metadata"
	"github.com/tanq16/mirrordl/internal/utils"
)

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

type fileInfo struct {
	Size     int64
	FileName string
}

// probe asks a mirror for the file size with a HEAD request.
func probe(ctx context.Context, client utils.HTTPDoer, link string) (fileInfo, error) {
	var info fileInfo
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return info, fmt.Errorf("error creating request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return info, fmt.Errorf("error checking URL: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return info, fmt.Errorf("URL not found (404)")
	} else if resp.StatusCode >= 400 {
		return info, fmt.Errorf("server returned error: %d", resp.StatusCode)
	}

	if contentDisposition := resp.Header.Get("Content-Disposition"); contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if fn, ok := params["filename"]; ok && fn != "" {
				info.FileName = filenameRegex.ReplaceAllString(fn, "_")
			} else if fn, ok := params["filename*"]; ok && strings.HasPrefix(fn, "UTF-8''") {
				unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
				info.FileName = filenameRegex.ReplaceAllString(unescaped, "_")
			}
		}
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return info, utils.ErrRangeRequestsNotSupported
	}
	contentLength := resp.Header.Get("Content-Length")
	if contentLength == "" {
		return info, errors.New("server didn't provide Content-Length header")
	}
	size, err := strconv.ParseInt(contentLength, 10, 64)
	if err != nil {
		return info, fmt.Errorf("invalid Content-Length %q: %w", contentLength, err)
	}
	if size < 0 {
		return info, errors.New("invalid file size reported by server")
	}
	info.Size = size
	return info, nil
}

// resolveOutputPath picks where the file goes. An existing metadata file
// means an interrupted download of the same name, which is resumed in place.
func resolveOutputPath(requested string, info fileInfo, link string) (string, error) {
	outputPath := requested
	if outputPath == "" && info.FileName != "" {
		outputPath = info.FileName
	} else if outputPath == "" {
		if parsedURL, err := url.Parse(link); err == nil {
			outputPath = path.Base(parsedURL.Path)
		}
		if outputPath == "" || outputPath == "/" || outputPath == "." {
			outputPath = "download"
		}
	}
	if _, err := os.Stat(metadata.MetadataPath(outputPath)); err == nil {
		return outputPath, nil
	}
	if existingFile, err := os.Stat(outputPath); err == nil {
		if existingFile.Size() == info.Size {
			return "", fmt.Errorf("%w: %s", ErrAlreadyExists, outputPath)
		}
		outputPath = utils.RenewOutputPath(outputPath)
	}
	return outputPath, nil
}
