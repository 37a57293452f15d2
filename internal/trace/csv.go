package trace

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/tracefeatures/internal/fsutil"
)

// Column names recognised in CSV headers.
const (
	ColX                  = "x"
	ColY                  = "y"
	ColZ                  = "z"
	ColVelX               = "vel_x"
	ColVelY               = "vel_y"
	ColVelZ               = "vel_z"
	ColVelHoriz           = "vel_horiz"
	ColClosestDist        = "closest_dist"
	ColAngleOfClosestDist = "angle_of_closest_dist"
	ColClosestDistMask    = "closest_dist_mask"
)

// requiredColumns must be present in every header. Positions and the mask
// column are optional.
var requiredColumns = []string{
	ColVelX, ColVelY, ColVelZ, ColVelHoriz, ColClosestDist, ColAngleOfClosestDist,
}

// ReadCSV parses a dense record from CSV with a header row. Empty or "nan"
// distance/bearing cells, or a truthy closest_dist_mask, mask the sample.
func ReadCSV(r io.Reader) (Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("missing header row")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("missing required column %q", c)
		}
	}

	var rec Record
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		s, err := parseSample(row, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec = append(rec, s)
	}
	return rec, nil
}

func parseSample(row []string, cols map[string]int) (Sample, error) {
	var s Sample
	var err error
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	fields := []struct {
		name     string
		dst      *float64
		optional bool
	}{
		{ColX, &s.X, true},
		{ColY, &s.Y, true},
		{ColZ, &s.Z, true},
		{ColVelX, &s.VelX, false},
		{ColVelY, &s.VelY, false},
		{ColVelZ, &s.VelZ, false},
		{ColVelHoriz, &s.VelHoriz, false},
	}
	for _, f := range fields {
		if *f.dst, err = parseFloat(get(f.name), f.optional); err != nil {
			return s, fmt.Errorf("%s: %w", f.name, err)
		}
	}

	dist, bearing := get(ColClosestDist), get(ColAngleOfClosestDist)
	if isMissing(dist) || isMissing(bearing) {
		s.DistMasked = true
	} else {
		if s.ClosestDist, err = strconv.ParseFloat(dist, 64); err != nil {
			return s, fmt.Errorf("%s: %w", ColClosestDist, err)
		}
		if s.AngleOfClosestDist, err = strconv.ParseFloat(bearing, 64); err != nil {
			return s, fmt.Errorf("%s: %w", ColAngleOfClosestDist, err)
		}
	}
	if mask := get(ColClosestDistMask); mask != "" {
		masked, err := strconv.ParseBool(mask)
		if err != nil {
			return s, fmt.Errorf("%s: %w", ColClosestDistMask, err)
		}
		s.DistMasked = s.DistMasked || masked
	}
	return s, nil
}

// parseFloat accepts "nan" and, for optional columns, empty cells.
// Missing velocity values become NaN so the affected window is dropped.
func parseFloat(v string, optional bool) (float64, error) {
	if isMissing(v) {
		if optional {
			return 0, nil
		}
		return math.NaN(), nil
	}
	return strconv.ParseFloat(v, 64)
}

func isMissing(v string) bool {
	return v == "" || strings.EqualFold(v, "nan")
}

// LoadCSV reads a trace from path; its id is the file name without extension.
func LoadCSV(fsys fsutil.FileSystem, path string) (Trace, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return Trace{}, fmt.Errorf("open trace %s: %w", path, err)
	}
	defer f.Close()

	rec, err := ReadCSV(f)
	if err != nil {
		return Trace{}, fmt.Errorf("parse trace %s: %w", path, err)
	}
	base := filepath.Base(path)
	id := TraceID(strings.TrimSuffix(base, filepath.Ext(base)))
	return Trace{ID: id, Record: rec}, nil
}

// LoadCSVs loads traces in argument order, rejecting duplicate ids.
func LoadCSVs(fsys fsutil.FileSystem, paths []string) ([]Trace, error) {
	seen := make(map[TraceID]string, len(paths))
	traces := make([]Trace, 0, len(paths))
	for _, p := range paths {
		t, err := LoadCSV(fsys, p)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("duplicate trace id %q from %s and %s", t.ID, prev, p)
		}
		seen[t.ID] = p
		traces = append(traces, t)
	}
	return traces, nil
}
