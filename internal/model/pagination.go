package model

import "time"

// Page holds pagination parameters for list queries (e.g. record version
// history, constraint-violation review).
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// PagedResult wraps a list result with a total count for pagination.
type PagedResult[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  Page  `json:"page"`
}

// TimeRange defines an inclusive time interval for filtering queries, e.g.
// "violations logged between X and Y". No repository method in this module
// accepts one.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}
