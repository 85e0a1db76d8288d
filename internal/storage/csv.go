package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/devblac/headwatch/internal/monitor"
)

// ErrGapInData rejects a tabular write whose headers do not cover every
// block between the first and last row.
var ErrGapInData = errors.New("gap in block data")

var csvColumns = []string{"block_number", "block_hash", "timestamp"}

// WriteCSV saves headers as a CSV file, one row per header. Headers must be
// in ascending order with no gaps; the whole file is rewritten (no
// incremental writes for CSV).
func WriteCSV(path string, headers []monitor.Header) error {
	if len(headers) == 0 {
		return errors.New("no headers to write")
	}
	for i := 1; i < len(headers); i++ {
		if headers[i].Number != headers[i-1].Number+1 {
			return fmt.Errorf("%w: first block %d, last block %d, break after %d", ErrGapInData, headers[0].Number, headers[len(headers)-1].Number, headers[i-1].Number)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvColumns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, h := range headers {
		record := []string{
			strconv.FormatUint(h.Number, 10),
			h.Hash,
			strconv.FormatUint(h.Timestamp, 10),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write block %d: %w", h.Number, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return f.Close()
}

// ReadCSV loads headers from a CSV file written by WriteCSV, keyed by block
// number for monitor.Restore.
func ReadCSV(path string) (map[uint64]monitor.Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("empty csv file")
	}
	if len(records[0]) != len(csvColumns) || records[0][0] != csvColumns[0] {
		return nil, fmt.Errorf("unexpected csv columns: %v", records[0])
	}

	out := make(map[uint64]monitor.Header, len(records)-1)
	for i, record := range records[1:] {
		number, err := strconv.ParseUint(record[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: parse block number %q: %w", i+1, record[0], err)
		}
		timestamp, err := strconv.ParseUint(record[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: parse timestamp %q: %w", i+1, record[2], err)
		}
		out[number] = monitor.Header{Number: number, Hash: record[1], Timestamp: timestamp}
	}
	return out, nil
}
