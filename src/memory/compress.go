package memory

import (
	"bytes"
	"compress/gzip"
	"io"
)

// compressPayload gzips raw and reports whether the compressed form is
// actually used. Payloads that do not shrink are stored as-is.
func compressPayload(raw []byte) ([]byte, bool) {
	var buf bytes.Buffer

	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return raw, false
	}
	if err := w.Close(); err != nil {
		return raw, false
	}

	if buf.Len() >= len(raw) {
		return raw, false
	}

	return buf.Bytes(), true
}

func decompressPayload(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}
