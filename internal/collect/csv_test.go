package collect

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadtool/internal/model"
)

func TestStreamCSV(t *testing.T) {
	input := "name,address\n Acme , 1 Main St\nBolt,\n"
	headerCh, rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})

	header := <-headerCh
	assert.Equal(t, []string{"name", "address"}, header)

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	assert.NoError(t, <-errCh)
	assert.Equal(t, [][]string{{"Acme", "1 Main St"}, {"Bolt", ""}}, rows)
}

func TestStreamCSV_Empty(t *testing.T) {
	headerCh, rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(""), CSVOptions{})
	_, ok := <-headerCh
	assert.False(t, ok)
	for range rowCh {
	}
	assert.NoError(t, <-errCh)
}

func TestStreamCSV_Delimiter(t *testing.T) {
	headerCh, rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a;b\n1;2\n"), CSVOptions{Delimiter: ';'})
	assert.Equal(t, []string{"a", "b"}, <-headerCh)
	assert.Equal(t, []string{"1", "2"}, <-rowCh)
	for range rowCh {
	}
	assert.NoError(t, <-errCh)
}

func TestCSVSource(t *testing.T) {
	path := writeTestFile(t, "leads.csv", "\ufeffKind,Name,Address,Review Count,Email,Company Name\n"+
		"company,Acme Plumbing,1 Main St,\"1,204\",,\n"+
		"person,,,,jane@acme.example,Acme Plumbing\n"+
		",Bolt Electric,,,,\n")

	src := &CSVSource{Path: path, Meta: Meta{Kind: model.KindOrganization, Period: model.MustParsePeriod("2025-01")}}
	got, err := collectAll(t, src)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, model.KindOrganization, got[0].Kind)
	assert.Equal(t, map[string]any{"name": "Acme Plumbing", "address": "1 Main St", "review_count": "1,204"}, got[0].Data)

	assert.Equal(t, model.KindContact, got[1].Kind)
	assert.Equal(t, map[string]any{"email": "jane@acme.example", "company_name": "Acme Plumbing"}, got[1].Data)

	// No kind column value: the source kind applies.
	assert.Equal(t, model.KindOrganization, got[2].Kind)
	assert.Equal(t, "2025-01", got[2].Period.String())
}

func TestHeaderKeys(t *testing.T) {
	assert.Equal(t, []string{"review_count", "name", ""}, headerKeys([]string{"\ufeffReview Count", " NAME ", ""}))
}

func TestRowRecord_ShortRow(t *testing.T) {
	rec := rowRecord([]string{"name", "address", ""}, []string{"Acme"})
	assert.Equal(t, map[string]any{"name": "Acme"}, rec)
}
