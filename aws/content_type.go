package aws

import (
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const fallbackContentType = "application/octet-stream"

// Streaming formats that the system mime table gets wrong or doesn't know
var streamingContentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".m4s":  "video/iso.segment",
	".mpd":  "application/dash+xml",
}

// ContentType resolves the content type of a storage key from its extension
func ContentType(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ext == "" {
		return fallbackContentType
	}

	if ct, ok := streamingContentTypes[ext]; ok {
		return ct
	}

	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}

	return fallbackContentType
}

// contentTypeFor also sniffs data when the key alone isn't enough
func contentTypeFor(key string, data []byte) string {
	ct := ContentType(key)
	if ct != fallbackContentType || len(data) == 0 {
		return ct
	}

	return mimetype.Detect(data).String()
}
