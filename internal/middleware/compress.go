package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

const (
	encodingBrotli = "br"
	encodingGzip   = "gzip"
)

var brotliPool = sync.Pool{New: func() any { return brotli.NewWriterLevel(io.Discard, 5) }}

var gzipPool = sync.Pool{New: func() any {
	w, _ := gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
	return w
}}

type resettableWriter interface {
	io.WriteCloser
	Reset(io.Writer)
	Flush() error
}

// compressWriter decides on the first write whether the body is encoded.
type compressWriter struct {
	http.ResponseWriter
	encoding    string
	enc         resettableWriter
	wroteHeader bool
}

func (w *compressWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	h := w.Header()
	skip := status == http.StatusNoContent || status == http.StatusNotModified ||
		h.Get("Content-Encoding") != "" || strings.HasPrefix(h.Get("Content-Type"), "image/")
	if !skip {
		h.Set("Content-Encoding", w.encoding)
		h.Del("Content-Length")
		w.enc = acquireEncoder(w.encoding, w.ResponseWriter)
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *compressWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.enc == nil {
		return w.ResponseWriter.Write(b)
	}
	return w.enc.Write(b)
}

func (w *compressWriter) Flush() {
	if w.enc != nil {
		w.enc.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *compressWriter) close() {
	if w.enc == nil {
		return
	}
	w.enc.Close()
	releaseEncoder(w.encoding, w.enc)
	w.enc = nil
}

func acquireEncoder(encoding string, dst io.Writer) resettableWriter {
	var enc resettableWriter
	if encoding == encodingBrotli {
		enc = brotliPool.Get().(*brotli.Writer)
	} else {
		enc = gzipPool.Get().(*gzip.Writer)
	}
	enc.Reset(dst)
	return enc
}

func releaseEncoder(encoding string, enc resettableWriter) {
	enc.Reset(io.Discard)
	if encoding == encodingBrotli {
		brotliPool.Put(enc)
	} else {
		gzipPool.Put(enc)
	}
}

// negotiateEncoding prefers brotli over gzip and honours q=0 exclusions.
func negotiateEncoding(acceptEncoding string) string {
	var br, gz bool
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.ReplaceAll(strings.TrimSpace(params), " ", "") == "q=0" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case encodingBrotli:
			br = true
		case encodingGzip:
			gz = true
		case "*":
			br, gz = true, true
		}
	}
	switch {
	case br:
		return encodingBrotli
	case gz:
		return encodingGzip
	default:
		return ""
	}
}

// Compress encodes response bodies with brotli or gzip according to the
// client's Accept-Encoding.
func Compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")
		encoding := negotiateEncoding(r.Header.Get("Accept-Encoding"))
		if encoding == "" || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		cw := &compressWriter{ResponseWriter: w, encoding: encoding}
		defer cw.close()
		next.ServeHTTP(cw, r)
	})
}
