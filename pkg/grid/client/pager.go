package client

import (
	"context"

	"github.com/diwise/grid-mapper/pkg/grid"
)

// QueryAllRows follows nextPageToken links until the table has been
// exhausted and invokes the callback once for each row. It returns the
// number of rows that were processed.
func QueryAllRows(ctx context.Context, c GridClient, tableID string, callback func(r grid.Row) error, parameters ...RequestDecoratorFunc) (int, error) {
	count := 0
	pageToken := ""

	for {
		params := make([]RequestDecoratorFunc, 0, len(parameters)+1)
		params = append(params, parameters...)

		if pageToken != "" {
			params = append(params, PageToken(pageToken))
		}

		result, err := c.QueryRows(ctx, tableID, nil, params...)
		if err != nil {
			return count, err
		}

		for _, row := range result.Items {
			err = callback(row)
			if err != nil {
				return count, err
			}

			count++
		}

		if !result.HasMorePages() {
			return count, nil
		}

		pageToken = result.NextPageToken
	}
}
