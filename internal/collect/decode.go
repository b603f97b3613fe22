package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadtool/internal/model"
)

// Wire formats a remote source can deliver.
const (
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

// formatFor returns explicit when set, otherwise guesses from the extension
// of name. Unknown extensions are treated as JSON.
func formatFor(explicit, name string) (string, error) {
	if explicit != "" {
		switch f := strings.ToLower(explicit); f {
		case FormatJSON, FormatJSONL, FormatCSV:
			return f, nil
		case "ndjson":
			return FormatJSONL, nil
		default:
			return "", eris.Errorf("collect: unknown format %q", explicit)
		}
	}
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		name = u.Path
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".csv":
		return FormatCSV, nil
	}
	return FormatJSON, nil
}

// decodeStream reads records in format from r.
func decodeStream(ctx context.Context, r io.Reader, format string, opts CSVOptions, meta Meta, out chan<- model.Observation) error {
	switch format {
	case FormatJSONL:
		return StreamJSONL(ctx, r, meta, out)
	case FormatCSV:
		return streamTable(ctx, r, opts, meta, out)
	default:
		return streamJSONArray(ctx, r, meta, out)
	}
}

// streamJSONArray decodes a top-level JSON array one element at a time.
// Elements that are not objects are logged and skipped.
func streamJSONArray(ctx context.Context, r io.Reader, meta Meta, out chan<- model.Observation) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "json: read opening token")
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return eris.Errorf("json: expected array, got %v", tok)
	}

	for i := 0; dec.More(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return eris.Wrapf(err, "json: decode element %d", i)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			zap.L().Warn("json: skipping element", zap.Int("index", i), zap.Error(err))
			continue
		}
		if err := meta.emit(ctx, out, rec, fmt.Sprintf("element %d", i)); err != nil {
			return err
		}
	}

	if _, err := dec.Token(); err != nil {
		return eris.Wrap(err, "json: read closing token")
	}
	return nil
}
