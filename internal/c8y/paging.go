package c8y

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

type PageStatistics struct {
	TotalPages  int `json:"totalPages,omitempty"`
	CurrentPage int `json:"currentPage,omitempty"`
	PageSize    int `json:"pageSize,omitempty"`
}

// PageFilter describes one page request.  Query carries the caller's filter
// parameters; PageSize and CurrentPage are appended by the pager.
type PageFilter struct {
	PageSize    int
	CurrentPage int
	Query       url.Values
}

func (f PageFilter) values() url.Values {
	values := url.Values{}
	for k, v := range f.Query {
		values[k] = v
	}
	if f.PageSize > 0 {
		values.Set("pageSize", strconv.Itoa(f.PageSize))
	}
	if f.CurrentPage > 0 {
		values.Set("currentPage", strconv.Itoa(f.CurrentPage))
	}
	return values
}

// listPage fetches one page of a list endpoint and decodes the item array
// stored under listKey, plus the paging statistics envelope.
func listPage[T any](ctx context.Context, c *Client, path string, listKey string, filter PageFilter) ([]T, *PageStatistics, error) {

	var envelope map[string]json.RawMessage
	if err := c.DoJSON(ctx, http.MethodGet, path, filter.values(), nil, &envelope); err != nil {
		return nil, nil, err
	}

	var items []T
	if raw, ok := envelope[listKey]; ok {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, nil, err
		}
	}

	var statistics *PageStatistics
	if raw, ok := envelope["statistics"]; ok {
		statistics = &PageStatistics{}
		if err := json.Unmarshal(raw, statistics); err != nil {
			return nil, nil, err
		}
	}

	return items, statistics, nil
}
