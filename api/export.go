/*
export.go - CSV sink for report exports

PURPOSE:
  Formats cost-control rows as CSV for download. The report core hands
  over plain strings; this file owns delimiters, encoding and the
  Content-Disposition header.
*/
package api

import (
	"context"
	"encoding/csv"
	"io"
)

// CSVSink writes report rows as RFC 4180 CSV.
type CSVSink struct {
	w io.Writer
}

func NewCSVSink(w io.Writer) *CSVSink {
	return &CSVSink{w: w}
}

func (s *CSVSink) Write(ctx context.Context, header []string, rows [][]string) error {
	cw := csv.NewWriter(s.w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
