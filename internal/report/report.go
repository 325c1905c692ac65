// Package report pivots aggregated cell statistics into a comparison table
// with ratio columns.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/covbench/covbench/internal/config"
	"github.com/covbench/covbench/internal/stats"
)

// NoData marks cells whose configuration produced no successful run. It is
// deliberately distinct from a rendered zero duration.
const NoData = "no data"

// CellValue is one table cell with data. Missing cells are nil pointers,
// never zero values.
type CellValue struct {
	MedianS   float64
	StdevS    float64
	Successes int
	Attempts  int
}

// Row is one pivoted row: its row-dimension values, one cell per column
// value, and one fraction per ratio definition.
type Row struct {
	Keys   map[string]string
	Cells  map[string]*CellValue
	Ratios map[string]*float64
}

// Report is the stable intermediate form of the comparison: structured rows
// that downstream tooling can consume without re-parsing a text table.
type Report struct {
	RowDims        []string
	Column         string
	Columns        []string
	RatioDefs      []config.Ratio
	Rows           []Row
	TotalRuns      int
	SuccessfulRuns int
}

// Build pivots statistics (keyed by cell key) into a table whose rows are
// the Cartesian product of the configured row dimensions, in config order.
func Build(cfg *config.Config, statistics map[string]stats.CellStatistic) (*Report, error) {
	if len(cfg.Rows) == 0 || cfg.Column == "" {
		return nil, fmt.Errorf("report needs row dimensions and a column dimension")
	}
	rep := &Report{
		RowDims:   cfg.Rows,
		Column:    cfg.Column,
		Columns:   cfg.ColumnValues(),
		RatioDefs: cfg.Ratios,
	}

	for _, stat := range statistics {
		rep.TotalRuns += stat.Attempts
		rep.SuccessfulRuns += stat.Successes
	}

	for _, keys := range rowCombinations(cfg) {
		row := Row{
			Keys:   keys,
			Cells:  map[string]*CellValue{},
			Ratios: map[string]*float64{},
		}
		for _, col := range rep.Columns {
			stat, ok := statistics[cellKey(cfg, keys, col)]
			if !ok || stat.Successes == 0 {
				row.Cells[col] = nil
				continue
			}
			row.Cells[col] = &CellValue{
				MedianS:   stat.MedianS,
				StdevS:    stat.StdevS,
				Successes: stat.Successes,
				Attempts:  stat.Attempts,
			}
		}
		for _, r := range cfg.Ratios {
			num := row.Cells[r.Numerator]
			den := row.Cells[r.Denominator]
			if num == nil || den == nil || den.MedianS == 0 {
				row.Ratios[r.Label] = nil
				continue
			}
			v := num.MedianS / den.MedianS
			row.Ratios[r.Label] = &v
		}
		rep.Rows = append(rep.Rows, row)
	}
	return rep, nil
}

// rowCombinations enumerates row-key tuples, first row dimension outermost.
func rowCombinations(cfg *config.Config) []map[string]string {
	combos := []map[string]string{{}}
	for _, dim := range cfg.Rows {
		var next []map[string]string
		for _, combo := range combos {
			for _, v := range cfg.DimensionValues(dim) {
				m := map[string]string{dim: v}
				for k, val := range combo {
					m[k] = val
				}
				next = append(next, m)
			}
		}
		combos = next
	}
	return combos
}

// cellKey reassembles the proj/pyver/cov key from a row tuple plus a column
// value.
func cellKey(cfg *config.Config, keys map[string]string, columnValue string) string {
	vals := map[string]string{cfg.Column: columnValue}
	for k, v := range keys {
		vals[k] = v
	}
	return vals[config.DimProject] + "/" + vals[config.DimInterpreter] + "/" + vals[config.DimCoverage]
}

// Record is the flat, machine-parseable form: one line per (row, column)
// pair plus one per ratio.
type Record struct {
	Keys        map[string]string `json:"keys"`
	Column      string            `json:"column"`
	MedianS     *float64          `json:"median_s"`
	StdevS      *float64          `json:"stdev_s"`
	Successes   int               `json:"successes"`
	Attempts    int               `json:"attempts"`
	Ratio       bool              `json:"ratio,omitempty"`
	RatioValue  *float64          `json:"ratio_value,omitempty"`
	RatioOfWhat string            `json:"ratio_definition,omitempty"`
}

// Records flattens the report for JSON output and downstream tooling.
func (r *Report) Records() []Record {
	var recs []Record
	for _, row := range r.Rows {
		for _, col := range r.Columns {
			rec := Record{Keys: row.Keys, Column: col}
			if c := row.Cells[col]; c != nil {
				m, s := c.MedianS, c.StdevS
				rec.MedianS = &m
				rec.StdevS = &s
				rec.Successes = c.Successes
				rec.Attempts = c.Attempts
			}
			recs = append(recs, rec)
		}
		for _, def := range r.RatioDefs {
			rec := Record{
				Keys:        row.Keys,
				Column:      def.Label,
				Ratio:       true,
				RatioOfWhat: def.Numerator + "/" + def.Denominator,
			}
			if v := row.Ratios[def.Label]; v != nil {
				val := *v
				rec.RatioValue = &val
			}
			recs = append(recs, rec)
		}
	}
	return recs
}

// Render writes the report in the requested format: table, markdown, or
// json.
func (r *Report) Render(w io.Writer, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r.Records())
	case "markdown":
		fmt.Fprintln(w, r.table().RenderMarkdown())
	default:
		fmt.Fprintln(w, r.table().Render())
	}
	fmt.Fprintf(w, "\n%d of %d runs succeeded\n", r.SuccessfulRuns, r.TotalRuns)
	return nil
}

func (r *Report) table() table.Writer {
	tw := table.NewWriter()
	header := table.Row{}
	for _, dim := range r.RowDims {
		header = append(header, dim)
	}
	for _, col := range r.Columns {
		header = append(header, col)
	}
	for _, def := range r.RatioDefs {
		header = append(header, def.Label)
	}
	tw.AppendHeader(header)

	for _, row := range r.Rows {
		tr := table.Row{}
		for _, dim := range r.RowDims {
			tr = append(tr, row.Keys[dim])
		}
		for _, col := range r.Columns {
			c := row.Cells[col]
			if c == nil {
				tr = append(tr, NoData)
				continue
			}
			cell := fmt.Sprintf("%.3f s", c.MedianS)
			if c.Successes < c.Attempts {
				cell += fmt.Sprintf(" (%d/%d)", c.Successes, c.Attempts)
			}
			tr = append(tr, cell)
		}
		for _, def := range r.RatioDefs {
			if v := row.Ratios[def.Label]; v != nil {
				tr = append(tr, fmt.Sprintf("%.0f%%", *v*100))
			} else {
				tr = append(tr, NoData)
			}
		}
		tw.AppendRow(tr)
	}
	return tw
}
