package dataset

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/boxoffice/pkg/errors"
)

// csvTable is a header-indexed CSV file held in memory.
type csvTable struct {
	path    string
	header  []string
	columns map[string]int
	records [][]string
}

func readCSV(path string) (*csvTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()

	reader := csv.NewReader(bufio.NewReader(file))
	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.NewValueError("dataset.readCSV", fmt.Sprintf("%s: missing header", path))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read header of %s", path)
	}

	t := &csvTable{path: path, header: header, columns: make(map[string]int, len(header))}
	for i, name := range header {
		// a UTF-8 BOM sticks to the first header cell
		name = strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")
		t.header[i] = name
		t.columns[name] = i
	}

	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		t.records = append(t.records, rec)
	}
	return t, nil
}

// require returns the positions of the named columns.
func (t *csvTable) require(names ...string) (map[string]int, error) {
	out := make(map[string]int, len(names))
	for _, name := range names {
		i, ok := t.columns[name]
		if !ok {
			return nil, errors.NewValueError("dataset", fmt.Sprintf("%s: missing column %q", t.path, name))
		}
		out[name] = i
	}
	return out, nil
}

// LoadTable reads a numeric CSV with a header row. Every column but the
// last is a feature; the last column is the target. Empty or non-numeric
// cells are parse errors.
func LoadTable(path string) (*Dataset, error) {
	t, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if len(t.header) < 2 {
		return nil, errors.NewValueError("dataset.LoadTable",
			fmt.Sprintf("%s: need at least one feature and a target column, got %d columns", path, len(t.header)))
	}
	if len(t.records) == 0 {
		return nil, errors.Wrapf(errors.ErrEmptyData, "%s has no data rows", path)
	}

	nFeatures := len(t.header) - 1
	rows := make([][]float64, len(t.records))
	targets := make([]float64, len(t.records))
	for r, rec := range t.records {
		row := make([]float64, nFeatures)
		for c, cell := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, errors.NewParseError(path, r+1, t.header[c], cell, err)
			}
			if c == nFeatures {
				targets[r] = v
			} else {
				row[c] = v
			}
		}
		rows[r] = row
	}
	return New(t.header[:nFeatures], rows, targets, nil)
}

// WriteTable writes d as a numeric CSV readable by LoadTable. targetName
// names the last column.
func WriteTable(w io.Writer, d *Dataset, targetName string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append(d.FeatureNames(), targetName)); err != nil {
		return errors.Wrap(err, "write header")
	}
	record := make([]string, d.NFeatures()+1)
	for i := 0; i < d.Rows(); i++ {
		for j, v := range d.Row(i) {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		record[d.NFeatures()] = strconv.FormatFloat(d.y.AtVec(i), 'g', -1, 64)
		if err := cw.Write(record); err != nil {
			return errors.Wrapf(err, "write row %d", i+1)
		}
	}
	cw.Flush()
	return errors.WithStack(cw.Error())
}
