package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// Each calls fn for every page in the database, in result order. The next
// result page is fetched while fn works through the current one. An error
// from fn stops the walk and is returned unwrapped.
func Each(ctx context.Context, c Client, dbID string, query *notionapi.DatabaseQueryRequest, fn func(notionapi.Page) error) error {
	type result struct {
		resp *notionapi.DatabaseQueryResponse
		err  error
	}

	request := func(cursor notionapi.Cursor) *notionapi.DatabaseQueryRequest {
		req := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
		if query != nil {
			req.Filter = query.Filter
			req.Sorts = query.Sorts
			req.PageSize = query.PageSize
		}
		return req
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var next <-chan result
	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "notion: query cancelled")
		}

		var resp *notionapi.DatabaseQueryResponse
		var err error
		if next != nil {
			r := <-next
			resp, err = r.resp, r.err
		} else {
			resp, err = c.QueryDatabase(ctx, dbID, request(""))
		}
		if err != nil {
			return eris.Wrap(err, "notion: query page")
		}

		next = nil
		if resp.HasMore {
			ch := make(chan result, 1)
			next = ch
			cursor := resp.NextCursor
			go func() {
				r, e := c.QueryDatabase(ctx, dbID, request(cursor))
				ch <- result{resp: r, err: e}
			}()
		}

		for _, page := range resp.Results {
			if err := fn(page); err != nil {
				return err
			}
		}
		if next == nil {
			return nil
		}
	}
}

// QueryAll collects every page of the database.
func QueryAll(ctx context.Context, c Client, dbID string, query *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	var all []notionapi.Page
	err := Each(ctx, c, dbID, query, func(p notionapi.Page) error {
		all = append(all, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// StatusFilter selects pages whose Status property equals status.
func StatusFilter(status string) *notionapi.DatabaseQueryRequest {
	return &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Status",
			Status: &notionapi.StatusFilterCondition{
				Equals: status,
			},
		},
	}
}
