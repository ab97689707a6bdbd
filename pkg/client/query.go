package client

import (
	"net/url"
	"strconv"
	"strings"
)

// SearchArea restricts the registry expression to the identifier field.
const SearchArea = "AREA[NCTIdSearch]"

// BuildExpression returns a registry search expression matching any of ids.
// The OR group is parenthesized so the search area applies to every term.
func BuildExpression(ids []string) string {
	return SearchArea + "(" + strings.Join(ids, " OR ") + ")"
}

// QueryParams returns the query parameters for one search over ids.
func QueryParams(ids []string, maxResults int) url.Values {
	return url.Values{
		"expr":    []string{BuildExpression(ids)},
		"min_rnk": []string{"1"},
		"max_rnk": []string{strconv.Itoa(maxResults)},
		"fmt":     []string{"json"},
	}
}
