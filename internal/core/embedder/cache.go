package embedder

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// vectorCache is an LRU of vectors keyed by a hash of the embedded text.
// A nil cache is valid and never hits.
type vectorCache struct {
	lru *lru.Cache[string, []float32]
}

func newVectorCache(size int) (*vectorCache, error) {
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &vectorCache{lru: c}, nil
}

func (c *vectorCache) get(text string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.lru.Get(cacheKey(text))
	if !ok {
		return nil, false
	}
	return cloneVector(v), true
}

func (c *vectorCache) put(text string, v []float32) {
	if c == nil || len(v) == 0 {
		return
	}
	c.lru.Add(cacheKey(text), cloneVector(v))
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(src []float32) []float32 {
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}
