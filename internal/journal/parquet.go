package journal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
)

// Record is one journalled operation.
type Record struct {
	OperationID        string  `parquet:"operation_id,zstd"`
	Kind               string  `parquet:"kind,zstd"`
	RundownExternalID  string  `parquet:"rundown_external_id,zstd"`
	PeripheralDeviceID string  `parquet:"peripheral_device_id,optional,zstd"`
	StartedAtMs        int64   `parquet:"started_at_ms"`
	DurationMs         float64 `parquet:"duration_ms"`
	Action             string  `parquet:"action,optional"`
	SegmentsChanged    int32   `parquet:"segments_changed"`
	SegmentsRemoved    int32   `parquet:"segments_removed"`
	SegmentsRenamed    int32   `parquet:"segments_renamed"`
	SegmentsMoved      int32   `parquet:"segments_moved"`
	RegenerateRundown  bool    `parquet:"regenerate_rundown"`
	RundownRemoved     bool    `parquet:"rundown_removed"`
	Resynced           bool    `parquet:"resynced"`
	ErrorCode          int32   `parquet:"error_code"`
	Error              string  `parquet:"error,optional,zstd"`
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionGzip
)

// ParseCompressionType parses a compression type string. Unknown names
// fall back to zstd.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

func codec(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

const (
	filePrefix = "journal-"
	fileSuffix = ".parquet"
)

// writeFile writes records to path. The file is written under a temporary
// name and renamed, so readers never see a partial file.
func writeFile(path string, records []Record, ct CompressionType) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	w := parquet.NewGenericWriter[Record](f, parquet.Compression(codec(ct)))
	if _, err := w.Write(records); err != nil {
		w.Close()
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("close writer: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close file: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadFile reads every record of one journal file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	r := parquet.NewGenericReader[Record](f, parquet.ReadBufferSize(1024*1024))
	defer r.Close()

	rows := make([]Record, r.NumRows())
	n, err := r.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return rows[:n], nil
}

// Files lists the journal files in dir, oldest first.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	// Names embed a zero padded timestamp and sequence.
	sort.Strings(files)
	return files, nil
}

// ReadDir reads every journal file in dir in write order.
func ReadDir(dir string) ([]Record, error) {
	files, err := Files(dir)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, path := range files {
		records, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}
