package models

import (
	"fmt"
	"math"
	"strings"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// MaxPage keeps (Page+1)*MaxPageSize from overflowing int.
const MaxPage = math.MaxInt/MaxPageSize - 1

type SortField string

const (
	SortCreatedAt SortField = "created_at"
	SortBalance   SortField = "balance"
)

// PageRequest is zero based. The zero value means first page, default size,
// newest first.
type PageRequest struct {
	Page int
	Size int
	Sort SortField
	Asc  bool
}

func (p PageRequest) Normalize() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Page > MaxPage {
		p.Page = MaxPage
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	if p.Sort == "" {
		p.Sort = SortCreatedAt
		p.Asc = false
	}
	return p
}

func (p PageRequest) Offset() int {
	p = p.Normalize()
	return p.Page * p.Size
}

// ParseSort accepts "field" or "field,dir", e.g. "balance,asc". camelCase
// createdAt is accepted too.
func ParseSort(s string) (SortField, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false, nil
	}
	field, dir, _ := strings.Cut(s, ",")
	var f SortField
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "created_at", "createdat":
		f = SortCreatedAt
	case "balance":
		f = SortBalance
	default:
		return "", false, fmt.Errorf("unsupported sort field %q", field)
	}
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "", "desc":
		return f, false, nil
	case "asc":
		return f, true, nil
	}
	return "", false, fmt.Errorf("unsupported sort direction %q", dir)
}

type Page[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Size  int `json:"size"`
	Total int `json:"total"`
}
