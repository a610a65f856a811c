// Package trackimport creates tracks from GPS recordings in CSV form.
package trackimport

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/plugins"
	"github.com/getpup/leaf-orchestrator/store"
	"github.com/getpup/pupsourcing/es"
	"github.com/google/uuid"
)

// ErrNoPoints is returned for a recording without data rows.
var ErrNoPoints = errors.New("recording has no points")

// Options describe the track created by an import.
type Options struct {
	// Hash of the new track (default: a random UUID).
	Hash orchestrator.TrackHash

	Owner string
	Name  string

	// Logger is for observability (optional).
	Logger es.Logger
}

// ReadGPS parses a CSV recording into a gps table.
//
// The header must name the columns timestamp, latitude, longitude and
// altitude in any order; other columns are ignored. Timestamps may be Unix
// seconds or RFC 3339. A missing altitude value counts as 0.
func ReadGPS(r io.Reader) (*orchestrator.Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoPoints
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range plugins.GPSColumns {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("header has no %s column", name)
		}
	}

	values := make([][]float64, len(plugins.GPSColumns))
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		for c, name := range plugins.GPSColumns {
			field := strings.TrimSpace(record[index[name]])
			v, err := parseField(name, field)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, name, err)
			}
			values[c] = append(values[c], v)
		}
	}

	if len(values[0]) == 0 {
		return nil, ErrNoPoints
	}

	table := orchestrator.NewTable()
	for c, name := range plugins.GPSColumns {
		table.AddColumn(name, values[c])
	}
	return table, nil
}

func parseField(name, field string) (float64, error) {
	switch {
	case name == plugins.ColumnAltitude && field == "":
		return 0, nil
	case name == plugins.ColumnTimestamp:
		if ts, err := time.Parse(time.RFC3339Nano, field); err == nil {
			return float64(ts.UnixNano()) / 1e9, nil
		}
	}
	return strconv.ParseFloat(field, 64)
}

// Import creates a track from a CSV recording and stores the points as its
// processed gps leaf. The track's start and end times are taken from the
// first and last timestamp.
func Import(ctx context.Context, s store.LeafStore, r io.Reader, opts Options) (orchestrator.Track, error) {
	gps, err := ReadGPS(r)
	if err != nil {
		return orchestrator.Track{}, err
	}

	if opts.Hash == "" {
		opts.Hash = orchestrator.TrackHash(uuid.New().String())
	}

	ts, _ := gps.Column(plugins.ColumnTimestamp)
	track := orchestrator.Track{
		Hash:      opts.Hash,
		Owner:     opts.Owner,
		Name:      opts.Name,
		StartTime: unixTime(ts[0]),
		EndTime:   unixTime(ts[len(ts)-1]),
	}

	if err := s.CreateTrack(ctx, track); err != nil {
		return orchestrator.Track{}, fmt.Errorf("failed to create track %s: %w", track.Hash, err)
	}

	rec := s.CreateLeafConfig(plugins.LeafGPS, track.Hash, gps.Schema(), orchestrator.LeafStatusProcessed)
	if err := s.WriteLeaf(ctx, track.Hash, rec, gps); err != nil {
		return orchestrator.Track{}, fmt.Errorf("failed to write gps leaf: %w", err)
	}

	if opts.Logger != nil {
		opts.Logger.Info(ctx, "track imported",
			"track", track.Hash,
			"owner", track.Owner,
			"points", gps.Len(),
			"start", track.StartTime,
			"end", track.EndTime)
	}

	return track, nil
}

func unixTime(seconds float64) time.Time {
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
