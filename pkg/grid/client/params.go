package client

import (
	"fmt"
	"net/url"
)

// Query matches rows whose column value equals the given value exactly.
func Query(columnID, value string) RequestDecoratorFunc {
	return func(params []string) []string {
		return append(params, "query="+url.QueryEscape(fmt.Sprintf("%s:%q", columnID, value)))
	}
}

func PageToken(token string) RequestDecoratorFunc {
	return func(params []string) []string {
		return append(params, "pageToken="+url.QueryEscape(token))
	}
}

func Limit(count int) RequestDecoratorFunc {
	return func(params []string) []string {
		return append(params, fmt.Sprintf("limit=%d", count))
	}
}
