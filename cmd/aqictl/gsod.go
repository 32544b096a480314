package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/aqi-predict-service/internal/domain"
)

// gsodColumns are the CSV headers an import file must carry.
var gsodColumns = []string{
	"SITE", "STATION", "DATE", "NAME",
	"TEMP", "DEWP", "STP", "VISIB", "WDSP", "MXSPD", "MAX", "MIN", "PRCP",
}

// gsodMissing holds the GSOD sentinel for a missing measurement, per column.
// The same digits are a real reading in another column, e.g. 999.9 mbar STP.
var gsodMissing = map[string]string{
	"TEMP": "9999.9", "DEWP": "9999.9", "STP": "9999.9", "MAX": "9999.9", "MIN": "9999.9",
	"VISIB": "999.9", "WDSP": "999.9", "MXSPD": "999.9",
	"PRCP": "99.99",
}

// parseGSOD reads GSOD observations from CSV. Header names are matched case
// insensitively and extra columns are ignored. MONTH is derived from DATE.
func parseGSOD(r io.Reader) ([]domain.Observation, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty CSV file")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, col := range gsodColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing column %s", col)
		}
	}

	var observations []domain.Observation
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)

		obs, err := parseGSODRecord(record, index)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		observations = append(observations, obs)
	}
	return observations, nil
}

func parseGSODRecord(record []string, index map[string]int) (domain.Observation, error) {
	field := func(col string) string { return strings.TrimSpace(record[index[col]]) }

	date, err := time.Parse(time.DateOnly, field("DATE"))
	if err != nil {
		return domain.Observation{}, fmt.Errorf("DATE: %w", err)
	}
	obs := domain.Observation{
		Site:    field("SITE"),
		Station: field("STATION"),
		Date:    date,
		Name:    field("NAME"),
		Month:   domain.MonthOf(date),
	}
	if obs.Site == "" {
		return domain.Observation{}, errors.New("SITE is empty")
	}

	targets := []struct {
		col string
		dst *float64
	}{
		{"TEMP", &obs.Temp}, {"DEWP", &obs.Dewp}, {"STP", &obs.Stp}, {"VISIB", &obs.Visib},
		{"WDSP", &obs.Wdsp}, {"MXSPD", &obs.Mxspd}, {"MAX", &obs.Max}, {"MIN", &obs.Min},
		{"PRCP", &obs.Prcp},
	}
	for _, t := range targets {
		v, err := parseMeasurement(t.col, field(t.col))
		if err != nil {
			return domain.Observation{}, fmt.Errorf("%s: %w", t.col, err)
		}
		*t.dst = v
	}
	return obs, nil
}

// parseMeasurement returns NaN for empty cells and for the column's GSOD
// missing sentinel so they are stored as NULL.
func parseMeasurement(col, s string) (float64, error) {
	// GSOD appends attribute flags to some values, e.g. "0.00G" or "75.2*".
	s = strings.TrimRight(s, "*ABCDEFGHI")
	if s == "" || s == gsodMissing[col] {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// csvFiles expands the arguments into CSV files. Directories contribute their
// *.csv entries in name order.
func csvFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*.csv"))
		if err != nil {
			return nil, err
		}
		slices.Sort(matches)
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, errors.New("no CSV files found")
	}
	return files, nil
}
