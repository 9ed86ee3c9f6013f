// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageParams parses page and page-size query values. Missing or invalid
// values fall back to page 1 and defSize; results are clamped to
// page >= 1 and 1 <= size <= maxSize.
//
//	page, size := utils.PageParams(c.Query("page"), c.Query("page_size"), 20, 100)
func PageParams(pageStr, sizeStr string, defSize, maxSize int) (page, size int) {
	page = AtoiDefault(pageStr, 1)
	if page < 1 {
		page = 1
	}
	size = AtoiDefault(sizeStr, defSize)
	if size < 1 {
		size = 1
	}
	if maxSize > 0 && size > maxSize {
		size = maxSize
	}
	return page, size
}

// PageWindow returns the [start, end) slice bounds of page within total
// items and the number of pages. Pages past the end yield an empty window.
func PageWindow(total, page, size int) (start, end, pages int) {
	if size < 1 {
		size = 1
	}
	if page < 1 {
		page = 1
	}
	pages = (total + size - 1) / size
	start = (page - 1) * size
	if start > total {
		start = total
	}
	end = start + size
	if end > total {
		end = total
	}
	return start, end, pages
}
