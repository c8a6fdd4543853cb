package api

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"flightassure/pkg/analysis"
)

// ResultCache keeps the most recent analysis results for export.
type ResultCache struct {
	lru *lru.Cache[string, *analysis.Result]
}

// NewResultCache holds up to size results.
func NewResultCache(size int) (*ResultCache, error) {
	if size <= 0 {
		size = 8
	}
	c, err := lru.New[string, *analysis.Result](size)
	if err != nil {
		return nil, err
	}
	return &ResultCache{lru: c}, nil
}

func (c *ResultCache) Add(r *analysis.Result) { c.lru.Add(r.ID, r) }

func (c *ResultCache) Get(id string) (*analysis.Result, bool) { return c.lru.Get(id) }

func (c *ResultCache) Len() int { return c.lru.Len() }
