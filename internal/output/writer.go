// Package output writes the merged record set as a delimited text file.
package output

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JakeFAU/bibharvest/internal/harvest"
)

// Dialect of the output file.
const (
	Delimiter = ' '
	Quote     = '|'
	LineEnd   = "\r\n"
)

// Result describes a written file.
type Result struct {
	Path   string
	Rows   int
	Bytes  int
	SHA256 string
}

// Encode writes one row per record: doi, bibsource, index, date, title, authors, venue,
// abstract. There is no header row.
func Encode(w io.Writer, records []harvest.Record) error {
	var line strings.Builder
	for _, r := range records {
		line.Reset()
		fields := [...]string{
			r.DOI,
			r.Bibsource,
			strconv.Itoa(r.Index),
			r.Date,
			r.Title,
			r.Authors,
			r.Venue,
			r.Abstract,
		}
		for i, f := range fields {
			if i > 0 {
				line.WriteRune(Delimiter)
			}
			writeField(&line, f)
		}
		line.WriteString(LineEnd)
		if _, err := io.WriteString(w, line.String()); err != nil {
			return fmt.Errorf("write record %s/%d: %w", r.Bibsource, r.Index, err)
		}
	}
	return nil
}

// writeField quotes f only when it holds the delimiter, the quote character or a line break.
func writeField(b *strings.Builder, f string) {
	if !strings.ContainsAny(f, string([]rune{Delimiter, Quote, '\r', '\n'})) {
		b.WriteString(f)
		return
	}
	b.WriteRune(Quote)
	b.WriteString(strings.ReplaceAll(f, string(Quote), string([]rune{Quote, Quote})))
	b.WriteRune(Quote)
}

// WriteFile encodes records and atomically replaces path with the result.
func WriteFile(path string, records []harvest.Record) (Result, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, records); err != nil {
		return Result{}, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Result{}, fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return Result{}, fmt.Errorf("create temp output file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return Result{}, fmt.Errorf("write temp output file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return Result{}, fmt.Errorf("close temp output file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return Result{}, fmt.Errorf("replace output file %s: %w", path, err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return Result{
		Path:   path,
		Rows:   len(records),
		Bytes:  buf.Len(),
		SHA256: hex.EncodeToString(sum[:]),
	}, nil
}
