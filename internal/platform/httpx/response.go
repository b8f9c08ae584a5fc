package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// ImageResponse describes encoded image bytes returned to a client.
type ImageResponse struct {
	Data         []byte
	ContentType  string
	ETag         string
	CacheControl string
	Filename     string
}

// WriteImage writes an image body. A request whose If-None-Match equals the
// ETag receives 304 with no body.
func WriteImage(w http.ResponseWriter, r *http.Request, img ImageResponse) {
	header := w.Header()
	if img.ETag != "" {
		etag := strconv.Quote(img.ETag)
		header.Set("ETag", etag)
		if r != nil && r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	if img.CacheControl != "" {
		header.Set("Cache-Control", img.CacheControl)
	}
	if img.Filename != "" {
		header.Set("Content-Disposition", "attachment; filename="+strconv.Quote(img.Filename))
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img.Data)
	}
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}
