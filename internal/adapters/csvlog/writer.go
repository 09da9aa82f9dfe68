// Package csvlog appends samples to one delimited text file per day.
package csvlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"

	"github.com/CaderIdris/GCARE-OPCN3/internal/domain"
	"github.com/CaderIdris/GCARE-OPCN3/internal/ports"
)

// MissingValue fills every bin column of a sample without histogram data.
const MissingValue = ""

const (
	timestampColumn = "Timestamp"
	timestampLayout = time.RFC3339
	fileDateLayout  = "2006-01-02"
	fileExt         = ".csv"
)

// Header returns the column names every daily file starts with.
func Header() []string {
	h := make([]string, 0, 1+len(domain.ScalarSchema)+domain.BinCount)
	h = append(h, timestampColumn)
	h = append(h, domain.ScalarSchema[:]...)
	for i := 0; i < domain.BinCount; i++ {
		h = append(h, fmt.Sprintf("Bin %d", i))
	}
	return h
}

// Writer opens, appends and closes the day's file on every call; no handle
// is kept between samples.
type Writer struct {
	fs afero.Fs
}

func NewWriter(fs afero.Fs) *Writer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Writer{fs: fs}
}

func (w *Writer) Name() string { return "csvlog" }

// PathFor returns the file a sample taken at ts belongs to.
func PathFor(target domain.StorageTarget, ts time.Time) string {
	return filepath.Join(target.Dir, ts.Format(fileDateLayout)+fileExt)
}

func (w *Writer) AppendSample(s *domain.MeasurementSample, target domain.StorageTarget) error {
	path := PathFor(target, s.Timestamp)

	if err := w.fs.MkdirAll(target.Dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", domain.ErrPersistence, target.Dir, err)
	}

	needHeader := false
	info, err := w.fs.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		needHeader = true
	case err != nil:
		return fmt.Errorf("%w: stat %s: %v", domain.ErrPersistence, path, err)
	case info.Size() == 0:
		needHeader = true
	}

	f, err := w.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", domain.ErrPersistence, path, err)
	}

	werr := writeRows(f, needHeader, s)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrPersistence, path, err)
	}
	return nil
}

func writeRows(f io.Writer, needHeader bool, s *domain.MeasurementSample) error {
	cw := csv.NewWriter(f)
	if needHeader {
		if err := cw.Write(Header()); err != nil {
			return err
		}
	}
	if err := cw.Write(Row(s)); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// Row renders a sample in Header order.
func Row(s *domain.MeasurementSample) []string {
	row := make([]string, 0, 1+len(domain.ScalarSchema)+domain.BinCount)
	row = append(row, s.Timestamp.Format(timestampLayout))
	for _, v := range s.Scalars {
		row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
	}

	switch h := s.Histogram.(type) {
	case domain.WithHistogram:
		row = appendBins(row, h.Bins)
	case domain.WithoutHistogram, nil:
		for i := 0; i < domain.BinCount; i++ {
			row = append(row, MissingValue)
		}
	}
	return row
}

func appendBins(row []string, bins [domain.BinCount]uint16) []string {
	for _, b := range bins {
		row = append(row, strconv.FormatUint(uint64(b), 10))
	}
	return row
}

var _ ports.Sink = (*Writer)(nil)
