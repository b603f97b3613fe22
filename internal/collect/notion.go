package collect

import (
	"context"

	"github.com/jomei/notionapi"

	"github.com/sells-group/leadtool/internal/model"
	"github.com/sells-group/leadtool/pkg/notion"
)

// NotionSource reads leads kept by hand in a Notion database. Property names
// map to record fields the same way CSV headers do. When Status is set only
// pages with that status are read.
type NotionSource struct {
	Client     notion.Client
	DatabaseID string
	Status     string
	Meta       Meta
}

func (s *NotionSource) Stream(ctx context.Context, out chan<- model.Observation) error {
	var query *notionapi.DatabaseQueryRequest
	if s.Status != "" {
		query = notion.StatusFilter(s.Status)
	}
	return notion.Each(ctx, s.Client, s.DatabaseID, query, func(page notionapi.Page) error {
		meta := s.Meta
		if meta.SourceURL == "" {
			meta.SourceURL = page.URL
		}
		return meta.emit(ctx, out, pageRecord(page), "page "+string(page.ID))
	})
}

func pageRecord(page notionapi.Page) map[string]any {
	values := notion.PlainValues(page)
	rec := make(map[string]any, len(values))
	for name, v := range values {
		key := headerKeys([]string{name})[0]
		if key == "status" {
			continue
		}
		rec[key] = v
	}
	return rec
}
