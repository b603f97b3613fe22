package collect

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadtool/internal/model"
)

// maxLineSize bounds a single JSONL record.
const maxLineSize = 4 << 20

// JSONLSource reads one record per line. A line is either a flat record or
// an envelope {"kind", "period", "source_url", "query_name", "data": {...}}.
type JSONLSource struct {
	Path string
	Meta Meta
}

func (s *JSONLSource) Stream(ctx context.Context, out chan<- model.Observation) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return eris.Wrapf(err, "jsonl: open %s", s.Path)
	}
	defer f.Close() //nolint:errcheck

	meta := s.Meta
	if meta.SourceURL == "" {
		meta.SourceURL = "file://" + s.Path
	}
	return StreamJSONL(ctx, f, meta, out)
}

// StreamJSONL decodes JSONL from r. Malformed lines are logged and skipped.
func StreamJSONL(ctx context.Context, r io.Reader, meta Meta, out chan<- model.Observation) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 || b[0] == '#' {
			continue
		}
		rec, err := decodeRecord(b)
		if err != nil {
			zap.L().Warn("jsonl: skipping malformed line", zap.Int("line", line), zap.Error(err))
			continue
		}
		if err := meta.emit(ctx, out, rec, fmt.Sprintf("line %d", line)); err != nil {
			return err
		}
	}
	return eris.Wrap(sc.Err(), "jsonl: scan")
}

// decodeRecord parses one JSON object, keeping numbers as json.Number so the
// payload round-trips unchanged.
func decodeRecord(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, eris.Wrap(err, "jsonl: decode")
	}
	if m == nil {
		return nil, eris.New("jsonl: not an object")
	}
	return unwrapEnvelope(m), nil
}

// unwrapEnvelope flattens {"kind": ..., "data": {...}} into the data map,
// keeping envelope fields for Meta.observation to pick up.
func unwrapEnvelope(m map[string]any) map[string]any {
	data, ok := m["data"].(map[string]any)
	if !ok {
		return m
	}
	for _, k := range []string{"kind", "type", "period", "month_key", "source_url", "query_name"} {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch k {
		case "type":
			k = "kind"
		case "month_key":
			k = "period"
		}
		data[k] = v
	}
	if owner, ok := m["company_data"].(map[string]any); ok {
		data["company"] = owner
	}
	return data
}
