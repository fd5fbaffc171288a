package api

import (
	"net/http"
	"path"
	"strings"
)

// servedExtensions are the artifact types exposed under the public video path.
// Everything else in the output directory (the job journal, temp files, render
// parts) stays private.
var servedExtensions = map[string]string{
	".mp4": "video/mp4",
	".srt": "application/x-subrip",
	".png": "image/png",
	".mp3": "audio/mpeg",
}

// MediaOnly is middleware for the static file server. It rejects directory
// listings, hidden paths (render work dirs, partial outputs) and anything that is not a known artifact type.
func MediaOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if p == "" || strings.HasSuffix(p, "/") {
			respondError(w, http.StatusNotFound, "Not found")
			return
		}

		for _, seg := range strings.Split(p, "/") {
			if strings.HasPrefix(seg, ".") {
				respondError(w, http.StatusNotFound, "Not found")
				return
			}
		}

		base := path.Base(p)

		contentType, ok := servedExtensions[strings.ToLower(path.Ext(base))]
		if !ok {
			respondError(w, http.StatusNotFound, "Not found")
			return
		}

		w.Header().Set("Content-Type", contentType)
		next.ServeHTTP(w, r)
	})
}
