package storage

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// DetectContentType determines the MIME type of a document: the provided
// type wins, then the key's extension, then sniffing up to 512 bytes of
// data, then application/octet-stream.
func DetectContentType(providedType, filename string, data io.Reader) string {
	if providedType != "" {
		return providedType
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}

	if data != nil {
		buffer := make([]byte, 512)
		n, err := io.ReadFull(data, buffer)
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
			return http.DetectContentType(buffer[:n])
		}
	}

	return "application/octet-stream"
}

// frameTypes are the image formats the frame normalizer can decode.
var frameTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
}

// IsAllowedFrameType reports whether a camera frame of this type can be
// analyzed.
func IsAllowedFrameType(contentType string) bool {
	baseType := strings.Split(contentType, ";")[0]
	baseType = strings.TrimSpace(strings.ToLower(baseType))
	return frameTypes[baseType]
}

// SniffFrameType detects the type of an in-memory frame.
func SniffFrameType(providedType, filename string, data []byte) string {
	if providedType != "" && providedType != "application/octet-stream" {
		return providedType
	}
	return DetectContentType("", filename, bytes.NewReader(data))
}
