package collect

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadtool/internal/model"
)

type mockNotion struct {
	mock.Mock
}

func (m *mockNotion) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func TestNotionSource(t *testing.T) {
	mc := new(mockNotion)
	mc.On("QueryDatabase", mock.Anything, "db-leads", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && pf.Status != nil && pf.Status.Equals == "Ready"
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{
			{
				ID:  "page-1",
				URL: "https://www.notion.so/page-1",
				Properties: notionapi.Properties{
					"Name":         &notionapi.TitleProperty{Title: []notionapi.RichText{{PlainText: "Acme Plumbing"}}},
					"Review Count": &notionapi.NumberProperty{Number: 12},
					"Status":       &notionapi.SelectProperty{Select: notionapi.Option{Name: "Ready"}},
				},
			},
		},
	}, nil).Once()

	src := &NotionSource{Client: mc, DatabaseID: "db-leads", Status: "Ready", Meta: Meta{Kind: model.KindOrganization}}
	got, err := collectAll(t, src)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://www.notion.so/page-1", got[0].SourceURL)
	assert.Equal(t, map[string]any{"name": "Acme Plumbing", "review_count": float64(12)}, got[0].Data)
	mc.AssertExpectations(t)
}

func TestNotionSource_QueryError(t *testing.T) {
	mc := new(mockNotion)
	mc.On("QueryDatabase", mock.Anything, "db-leads", mock.Anything).Return(nil, assert.AnError).Once()

	_, err := collectAll(t, &NotionSource{Client: mc, DatabaseID: "db-leads"})
	assert.Error(t, err)
}
