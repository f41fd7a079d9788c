package paging

import (
	"context"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/c8y"
)

// PageFetcher fetches one page of results.
type PageFetcher[T any] func(ctx context.Context, filter c8y.PageFilter) ([]T, *c8y.PageStatistics, error)

// Collect walks a paginated endpoint sequentially, appending every page until
// a page comes back shorter than the requested size or the platform reports
// no further page.  Page requests within one tenant are strictly sequential;
// each request depends on the previous page having been consumed.
func Collect[T any](ctx context.Context, pageSize int, query c8y.PageFilter, fetch PageFetcher[T]) ([]T, error) {

	var collected []T

	for currentPage := 1; ; currentPage++ {
		filter := c8y.PageFilter{
			PageSize:    pageSize,
			CurrentPage: currentPage,
			Query:       query.Query,
		}

		items, statistics, err := fetch(ctx, filter)
		if err != nil {
			return nil, err
		}

		collected = append(collected, items...)

		if len(items) < pageSize {
			break
		}

		if statistics != nil && statistics.TotalPages > 0 && currentPage >= statistics.TotalPages {
			break
		}
	}

	return collected, nil
}
