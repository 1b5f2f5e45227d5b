// Package dataset reads and writes the numeric CSV files models are trained on.
package dataset

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/revit3d/WebEnsemble/pkg/errors"
)

// Frame is a numeric table split into features and an optional target.
type Frame struct {
	// Columns are the feature names in file order.
	Columns []string
	// Target is the target column name, empty when Y is nil.
	Target string
	X      *mat.Dense
	Y      *mat.VecDense
}

// Rows returns the number of data rows.
func (f *Frame) Rows() int {
	r, _ := f.X.Dims()
	return r
}

// Select returns the feature columns named by columns, in that order.
func (f *Frame) Select(columns []string) (*mat.Dense, error) {
	if len(columns) == 0 {
		return nil, errors.NewDataError("frame", 0, "", "no feature columns selected")
	}
	index := make(map[string]int, len(f.Columns))
	for j, c := range f.Columns {
		index[c] = j
	}
	rows := f.Rows()
	out := mat.NewDense(rows, len(columns), nil)
	for k, c := range columns {
		j, ok := index[c]
		if !ok {
			return nil, errors.NewDataError("frame", 0, c, "column is missing")
		}
		for i := 0; i < rows; i++ {
			out.Set(i, k, f.X.At(i, j))
		}
	}
	return out, nil
}

type readOptions struct {
	source         string
	optionalTarget bool
}

// ReadOption configures ReadCSV.
type ReadOption func(*readOptions)

// WithSource names the input in errors, e.g. the uploaded file name.
func WithSource(name string) ReadOption {
	return func(o *readOptions) { o.source = name }
}

// OptionalTarget accepts input without the target column; when the column is
// present it is still split off into Y.
func OptionalTarget() ReadOption {
	return func(o *readOptions) { o.optionalTarget = true }
}

// ReadCSV parses a CSV whose first row is the header and whose other cells are
// all finite numbers. An empty target keeps every column as a feature.
func ReadCSV(r io.Reader, target string, opts ...ReadOption) (*Frame, error) {
	o := readOptions{source: "csv"}
	for _, opt := range opts {
		opt(&o)
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.NewDataError(o.source, 0, "", "file is empty")
	}
	if err != nil {
		return nil, csvError(o.source, err)
	}

	targetIdx := -1
	seen := make(map[string]bool, len(header))
	for j, name := range header {
		name = strings.TrimSpace(name)
		header[j] = name
		if name == "" {
			return nil, errors.NewDataError(o.source, 0, "", "header has an empty column name")
		}
		if seen[name] {
			return nil, errors.NewDataError(o.source, 0, name, "duplicate column")
		}
		seen[name] = true
		if target != "" && name == target {
			targetIdx = j
		}
	}
	if target != "" && targetIdx < 0 && !o.optionalTarget {
		return nil, errors.NewDataError(o.source, 0, target, "target column not found")
	}
	if targetIdx >= 0 && len(header) == 1 {
		return nil, errors.NewDataError(o.source, 0, "", "no feature columns")
	}

	var data []float64
	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, csvError(o.source, err)
		}
		rows++
		for j, cell := range record {
			v, err := parseCell(cell)
			if err != nil {
				return nil, errors.NewDataError(o.source, rows, header[j], err.Error())
			}
			data = append(data, v)
		}
	}
	if rows == 0 {
		return nil, errors.NewDataError(o.source, 0, "", "no data rows")
	}

	return split(header, data, rows, targetIdx), nil
}

func parseCell(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return 0, errors.New("missing value")
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, errors.Newf("%q is not a number", cell)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Newf("%q is not a finite number", cell)
	}
	return v, nil
}

func csvError(source string, err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		// the header is line 1, so data row numbers are one less than the line
		return errors.NewDataError(source, max(parseErr.Line-1, 0), "", parseErr.Err.Error())
	}
	return errors.Wrapf(err, "read %s", source)
}

func split(header []string, data []float64, rows, targetIdx int) *Frame {
	width := len(header)
	f := &Frame{}
	for j, name := range header {
		if j != targetIdx {
			f.Columns = append(f.Columns, name)
		}
	}
	if targetIdx < 0 {
		f.X = mat.NewDense(rows, width, data)
		return f
	}

	f.Target = header[targetIdx]
	f.X = mat.NewDense(rows, width-1, nil)
	f.Y = mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		row := data[i*width : (i+1)*width]
		k := 0
		for j, v := range row {
			if j == targetIdx {
				f.Y.SetVec(i, v)
				continue
			}
			f.X.Set(i, k, v)
			k++
		}
	}
	return f
}

// ReadCSVFile opens path and reads it with ReadCSV, naming the file in errors.
func ReadCSVFile(path, target string, opts ...ReadOption) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()
	return ReadCSV(file, target, append([]ReadOption{WithSource(path)}, opts...)...)
}

// WriteCSV writes the frame with a header, the target column last.
func WriteCSV(w io.Writer, f *Frame) error {
	writer := csv.NewWriter(w)

	header := append([]string(nil), f.Columns...)
	if f.Y != nil {
		header = append(header, f.Target)
	}
	if err := writer.Write(header); err != nil {
		return errors.Wrap(err, "write header")
	}

	rows, cols := f.X.Dims()
	record := make([]string, len(header))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			record[j] = strconv.FormatFloat(f.X.At(i, j), 'g', -1, 64)
		}
		if f.Y != nil {
			record[cols] = strconv.FormatFloat(f.Y.AtVec(i), 'g', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return errors.Wrapf(err, "write row %d", i+1)
		}
	}
	writer.Flush()
	return errors.Wrap(writer.Error(), "flush csv")
}

// WriteCSVFile writes the frame to path.
func WriteCSVFile(path string, f *Frame) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := WriteCSV(file, f); err != nil {
		file.Close()
		return err
	}
	return errors.Wrapf(file.Close(), "close %s", path)
}
