// Package collect turns external lead drops (JSONL and CSV files,
// spreadsheets, HTTP endpoints, FTP drops, a Notion database) into a stream
// of raw observations for the ingestion engine.
package collect

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadtool/internal/model"
)

// Source yields raw observations into out. Sends must block when out is
// full and must give up when ctx is done. Stream does not close out.
type Source interface {
	Stream(ctx context.Context, out chan<- model.Observation) error
}

// Func adapts a function to Source.
type Func func(ctx context.Context, out chan<- model.Observation) error

func (f Func) Stream(ctx context.Context, out chan<- model.Observation) error { return f(ctx, out) }

// send delivers obs or returns the context error.
func send(ctx context.Context, out chan<- model.Observation, obs model.Observation) error {
	select {
	case out <- obs:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Static streams a fixed list of observations. Used for replays and tests.
type Static []model.Observation

func (s Static) Stream(ctx context.Context, out chan<- model.Observation) error {
	for _, obs := range s {
		if err := send(ctx, out, obs); err != nil {
			return err
		}
	}
	return nil
}

// Named is a source with a label used in logs.
type Named struct {
	Name   string
	Source Source
}

// Multi streams several sources one after another. A failing source stops
// the stream; later sources are not read.
type Multi []Named

func (m Multi) Stream(ctx context.Context, out chan<- model.Observation) error {
	for _, n := range m {
		zap.L().Info("collect: streaming source", zap.String("source", n.Name))
		if err := n.Source.Stream(ctx, out); err != nil {
			return eris.Wrapf(err, "collect: source %s", n.Name)
		}
	}
	return nil
}

// Meta is the envelope a source stamps on every observation it emits.
type Meta struct {
	Kind      model.Kind
	Period    model.Period
	SourceURL string
	QueryName string
}

// observation builds an observation from a raw record. A "kind" field in
// data overrides the source kind; "period", "source_url" and "query_name"
// fields override the envelope the same way and are removed from data. An
// unrecognised kind is passed through for the engine to reject; only an
// unparseable period is an error.
func (m Meta) observation(data map[string]any) (model.Observation, error) {
	obs := model.Observation{Kind: m.Kind, Period: m.Period, SourceURL: m.SourceURL, QueryName: m.QueryName, Data: data}
	if v, ok := data["kind"].(string); ok && v != "" {
		if k, err := model.ParseKind(v); err == nil {
			obs.Kind = k
		} else {
			obs.Kind = model.Kind(v)
		}
		delete(data, "kind")
	}
	if v, ok := data["period"].(string); ok && v != "" {
		p, err := model.ParsePeriod(v)
		if err != nil {
			return obs, err
		}
		obs.Period = p
		delete(data, "period")
	}
	if v, ok := data["source_url"].(string); ok && v != "" {
		obs.SourceURL = v
		delete(data, "source_url")
	}
	if v, ok := data["query_name"].(string); ok && v != "" {
		obs.QueryName = v
		delete(data, "query_name")
	}
	return obs, nil
}

// emit converts data and sends it. Records with a bad envelope are logged
// and skipped so one bad line does not stop a drop.
func (m Meta) emit(ctx context.Context, out chan<- model.Observation, data map[string]any, where string) error {
	obs, err := m.observation(data)
	if err != nil {
		zap.L().Warn("collect: skipping record with bad envelope",
			zap.String("at", where),
			zap.String("source_url", m.SourceURL),
			zap.Error(err),
		)
		return nil
	}
	return send(ctx, out, obs)
}
