package api

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// parsePagination parses limit and offset from query parameters.
// Without a limit parameter every item is returned. An explicit limit is
// capped at 1000.
func parsePagination(c echo.Context) (limit, offset int) {
	limit = -1
	if limitParam := c.QueryParam("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
			// Cap at 1000
			if limit > 1000 {
				limit = 1000
			}
		}
	}

	offset = 0
	if offsetParam := c.QueryParam("offset"); offsetParam != "" {
		if parsed, err := strconv.Atoi(offsetParam); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return limit, offset
}

// paginate applies pagination to a slice. A negative limit means no limit.
func paginate[T any](items []T, limit, offset int) []T {
	// Handle edge cases
	if offset >= len(items) {
		return []T{}
	}

	end := len(items)
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}

	return items[offset:end]
}
