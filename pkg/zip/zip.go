package zip

import (
	"archive/zip"
	"bytes"
)

// Entry is one file to place into an archive.
type Entry struct {
	Filename string
	Data     []byte
}

// Archive packs the entries into an in-memory zip. Entries that fail to
// write are skipped rather than aborting the whole archive.
func Archive(entries []Entry) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, entry := range entries {
		w, err := zw.Create(entry.Filename)
		if err != nil {
			continue
		}
		if _, err := w.Write(entry.Data); err != nil {
			continue
		}
	}
	_ = zw.Close()
	return buf.Bytes()
}
