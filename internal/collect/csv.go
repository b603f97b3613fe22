package collect

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadtool/internal/model"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
}

// StreamCSV reads r and sends rows to the returned channel. The first row is
// sent on the header channel. Errors are sent on the error channel. All
// channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan []string, <-chan error) {
	headerCh := make(chan []string, 1)
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)
		headerSent := false
		defer func() {
			if !headerSent {
				close(headerCh)
			}
		}()

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // allow variable fields

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}

			if first {
				first = false
				headerCh <- record
				close(headerCh)
				headerSent = true
				continue
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return headerCh, rowCh, errCh
}

// CSVSource reads a CSV drop whose header row names the record fields.
// A "kind" column selects the record kind per row; otherwise Meta.Kind
// applies to every row.
type CSVSource struct {
	Path    string
	Options CSVOptions
	Meta    Meta
}

func (s *CSVSource) Stream(ctx context.Context, out chan<- model.Observation) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return eris.Wrapf(err, "csv: open %s", s.Path)
	}
	defer f.Close() //nolint:errcheck

	meta := s.Meta
	if meta.SourceURL == "" {
		meta.SourceURL = "file://" + s.Path
	}
	return streamTable(ctx, f, s.Options, meta, out)
}

// streamTable streams CSV from r as header-keyed records.
func streamTable(ctx context.Context, r io.Reader, opts CSVOptions, meta Meta, out chan<- model.Observation) error {
	// The reader goroutine must stop when we return early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	headerCh, rowCh, errCh := StreamCSV(ctx, r, opts)
	header, ok := <-headerCh
	if !ok {
		// Empty input or a broken first row.
		for range rowCh {
		}
		return <-errCh
	}
	header = headerKeys(header)

	line := 1
	for row := range rowCh {
		line++
		if err := meta.emit(ctx, out, rowRecord(header, row), fmt.Sprintf("row %d", line)); err != nil {
			return err
		}
	}
	return <-errCh
}

// headerKeys lower-cases header cells and turns spaces into underscores, so
// "Review Count" maps to review_count.
func headerKeys(header []string) []string {
	keys := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		keys[i] = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_")
	}
	return keys
}

// rowRecord zips header and row, omitting empty cells and unnamed columns.
func rowRecord(header, row []string) map[string]any {
	rec := make(map[string]any, len(header))
	for i, key := range header {
		if key == "" || i >= len(row) || row[i] == "" {
			continue
		}
		rec[key] = row[i]
	}
	return rec
}
