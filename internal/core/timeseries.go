package core

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
)

// DataFormatError indicates an improperly formatted header or time series
// data file.
type DataFormatError struct {
	msg string
}

func (e *DataFormatError) Error() string {
	return e.msg
}

// FileNameError indicates a mismatch between the file names listed in the
// header file and the files present in the uploaded tarball.
type FileNameError struct {
	msg string
}

func (e *FileNameError) Error() string {
	return e.msg
}

// TimeSeries is a single labeled series parsed from an uploaded data file.
// Value holds the first measurement column.
type TimeSeries struct {
	Name  string
	Label string

	Time  []float64
	Value []float64
}

type HeaderEntry struct {
	Filename string
	Label    string
}

// ParseHeader reads the uploaded header file. Each non-blank line must have
// at least two comma separated columns (file_name,label). An optional column
// header row naming the first column "filename" or "file_name" is skipped.
func ParseHeader(r io.Reader) ([]HeaderEntry, error) {
	var entries []HeaderEntry

	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cols := strings.Split(line, ",")
		if len(cols) < 2 {
			return nil, &DataFormatError{
				msg: "Header file improperly formatted. At least two comma-separated columns (file_name,class_name) are required.",
			}
		}

		name := strings.TrimSpace(cols[0])
		if first {
			first = false
			lower := strings.ToLower(name)
			if lower == "filename" || lower == "file_name" {
				continue
			}
		}

		entries = append(entries, HeaderEntry{
			Filename: name,
			Label:    strings.TrimSpace(cols[1]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading header file: %w", err)
	}

	if len(entries) == 0 {
		return nil, &DataFormatError{msg: "Header file contains no entries."}
	}

	return entries, nil
}

// filenameVariants returns the names under which a tarball member may be
// referenced in the header file: as given, basename only, and either with
// the extension stripped.
func filenameVariants(name string) []string {
	base := filepath.Base(name)
	ext := filepath.Ext(name)
	return []string{
		name,
		base,
		strings.TrimSuffix(name, ext),
		strings.TrimSuffix(base, filepath.Ext(base)),
	}
}

func openTarball(r io.Reader) (*tar.Reader, error) {
	buffered := bufio.NewReader(r)

	magic, err := buffered.Peek(2)
	if err != nil {
		return nil, &DataFormatError{msg: "Uploaded tarball is empty or unreadable."}
	}

	if magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, &DataFormatError{msg: "Uploaded tarball is not a valid gzip archive."}
		}
		return tar.NewReader(gz), nil
	}

	return tar.NewReader(buffered), nil
}

// ReadTarball parses every time series data file in the tarball, validating
// the archive against the header entries as it goes. Every file in the
// tarball must be named in the header, every header entry must have a file,
// and every data file must have a consistent number of comma separated
// columns, at least two (time,measurement).
func ReadTarball(r io.Reader, entries []HeaderEntry) ([]TimeSeries, error) {
	labels := make(map[string]string, len(entries))
	for _, entry := range entries {
		labels[entry.Filename] = entry.Label
	}

	tarball, err := openTarball(r)
	if err != nil {
		return nil, err
	}

	var series []TimeSeries
	seen := make(map[string]bool)

	for {
		hdr, err := tarball.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &DataFormatError{msg: fmt.Sprintf("Error reading tarball: %v", err)}
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		variants := filenameVariants(hdr.Name)

		matched := ""
		for _, variant := range variants {
			seen[variant] = true
			if _, ok := labels[variant]; ok && matched == "" {
				matched = variant
			}
		}
		if matched == "" {
			return nil, &FileNameError{
				msg: fmt.Sprintf("Time series data file %s provided in tarball/zip file has no corresponding entry in header file.", hdr.Name),
			}
		}

		ts, err := parseDataFile(hdr.Name, tarball)
		if err != nil {
			return nil, err
		}
		ts.Name = matched
		ts.Label = labels[matched]
		series = append(series, *ts)
	}

	for _, entry := range entries {
		if !seen[entry.Filename] {
			return nil, &FileNameError{
				msg: fmt.Sprintf("Header file entry with file_name=%s has no corresponding file in provided tarball/zip file.", entry.Filename),
			}
		}
	}

	return series, nil
}

func parseDataFile(name string, r io.Reader) (*TimeSeries, error) {
	ts := &TimeSeries{}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	numCols := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lineNo++

		cols := strings.Split(line, ",")
		if lineNo == 1 {
			numCols = len(cols)
			if numCols < 2 {
				return nil, &DataFormatError{
					msg: fmt.Sprintf("Time series data file improperly formatted; at least two comma-separated columns (time,measurement) are required. Error occurred on file %s", name),
				}
			}
		} else if len(cols) != numCols {
			return nil, &DataFormatError{
				msg: fmt.Sprintf("Time series data file improperly formatted; in file %s line number %d has %d columns while the first line has %d columns.", name, lineNo, len(cols), numCols),
			}
		}

		t, err := strconv.ParseFloat(strings.TrimSpace(cols[0]), 64)
		if err != nil {
			return nil, &DataFormatError{
				msg: fmt.Sprintf("Time series data file improperly formatted; non-numeric time value on line %d of file %s.", lineNo, name),
			}
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(cols[1]), 64)
		if err != nil {
			return nil, &DataFormatError{
				msg: fmt.Sprintf("Time series data file improperly formatted; non-numeric measurement value on line %d of file %s.", lineNo, name),
			}
		}

		ts.Time = append(ts.Time, t)
		ts.Value = append(ts.Value, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading data file %s: %w", name, err)
	}

	if len(ts.Time) == 0 {
		return nil, &DataFormatError{msg: fmt.Sprintf("Time series data file %s contains no data.", name)}
	}

	return ts, nil
}

// WriteCSV serializes the series as time,value rows, the format dataset
// files are stored in.
func (ts *TimeSeries) WriteCSV(w io.Writer) error {
	buffered := bufio.NewWriter(w)
	for i := range ts.Time {
		if _, err := fmt.Fprintf(buffered, "%v,%v\n", ts.Time[i], ts.Value[i]); err != nil {
			return fmt.Errorf("error writing series %s: %w", ts.Name, err)
		}
	}
	return buffered.Flush()
}

// ReadSeriesCSV parses a stored dataset file back into a series.
func ReadSeriesCSV(name, label string, r io.Reader) (*TimeSeries, error) {
	ts, err := parseDataFile(name, r)
	if err != nil {
		return nil, err
	}
	ts.Name = name
	ts.Label = label
	return ts, nil
}
