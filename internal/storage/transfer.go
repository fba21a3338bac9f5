package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Format is an export file format
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// FormatFromPath picks the format by file extension, defaulting to JSON
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return FormatCSV
	}
	return FormatJSON
}

var csvHeader = []string{"identity", "seconds", "display_name", "is_media"}

// Export writes records to w. CSV durations are in seconds with millisecond
// precision.
func Export(w io.Writer, format Format, records []Record) error {
	switch format {
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return errors.Wrap(err, "failed to write csv header")
		}
		for _, r := range records {
			row := []string{
				r.Identity,
				strconv.FormatFloat(float64(r.AccumulatedMS)/1000, 'f', 3, 64),
				r.DisplayName,
				strconv.FormatBool(r.IsMedia),
			}
			if err := cw.Write(row); err != nil {
				return errors.Wrap(err, "failed to write csv row")
			}
		}
		cw.Flush()
		return errors.Wrap(cw.Error(), "failed to flush csv")
	case FormatJSON:
		if records == nil {
			records = []Record{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(jsonDocument{Version: jsonVersion, Processes: records}), "failed to encode json")
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// ExportFile writes records to path, choosing the format by extension
func ExportFile(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create export file")
	}
	if err := Export(f, FormatFromPath(path), records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Import reads records from r. JSON accepts the snapshot document as well as
// a {"tracked_programs": {name: seconds}} map or a bare {name: seconds} map.
// CSV accepts "identity" or "program" and a "seconds" column.
func Import(r io.Reader, format Format) ([]Record, error) {
	switch format {
	case FormatCSV:
		return importCSV(r)
	case FormatJSON:
		return importJSON(r)
	default:
		return nil, fmt.Errorf("unknown import format %q", format)
	}
}

// ImportFile reads records from path, choosing the format by extension
func ImportFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open import file")
	}
	defer f.Close()
	return Import(f, FormatFromPath(path))
}

func importJSON(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read import")
	}

	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err == nil && doc.Processes != nil {
		return doc.Processes, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "import is not a JSON object")
	}
	if legacy, ok := raw["tracked_programs"]; ok {
		var programs map[string]json.RawMessage
		if err := json.Unmarshal(legacy, &programs); err != nil {
			return nil, errors.Wrap(err, "tracked_programs is not an object")
		}
		raw = programs
	}

	records := make([]Record, 0, len(raw))
	for name, value := range raw {
		var seconds float64
		if err := json.Unmarshal(value, &seconds); err != nil {
			return nil, fmt.Errorf("duration for %q is not a number", name)
		}
		rec, err := secondsRecord(name, seconds)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func importCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read csv header")
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	nameCol, ok := cols["identity"]
	if !ok {
		if nameCol, ok = cols["program"]; !ok {
			return nil, errors.New("csv has no identity or program column")
		}
	}
	secCol, ok := cols["seconds"]
	if !ok {
		return nil, errors.New("csv has no seconds column")
	}

	field := func(row []string, name string) string {
		if i, ok := cols[name]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var records []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "csv line %d", line)
		}
		if nameCol >= len(row) || secCol >= len(row) {
			return nil, fmt.Errorf("csv line %d: missing columns", line)
		}
		seconds, err := strconv.ParseFloat(strings.TrimSpace(row[secCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: invalid seconds %q", line, row[secCol])
		}
		rec, err := secondsRecord(row[nameCol], seconds)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		rec.DisplayName = field(row, "display_name")
		rec.IsMedia, _ = strconv.ParseBool(field(row, "is_media"))
		records = append(records, rec)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

func secondsRecord(name string, seconds float64) (Record, error) {
	if strings.TrimSpace(name) == "" {
		return Record{}, errors.New("empty identity")
	}
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return Record{}, fmt.Errorf("invalid duration for %q", name)
	}
	return Record{Identity: name, AccumulatedMS: int64(math.Round(seconds * 1000))}, nil
}
