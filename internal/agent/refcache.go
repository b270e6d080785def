package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/querydesk/sql-copilot/internal/schema"
)

// ValueSampler supplies distinct values for a column, typically backed by
// the dataset store
type ValueSampler interface {
	SampleDistinct(ctx context.Context, table, column string, limit int) ([]string, error)
}

// ReferenceCache holds sampled distinct values for the columns the schema
// descriptor marks as reference columns. The sample is taken once, on first
// use, and reused for the life of the session. It is advisory only: the
// generator sees the values as prompt context, nothing is ever enforced
// against them.
type ReferenceCache struct {
	desc    *schema.Descriptor
	sampler ValueSampler

	once   sync.Once
	values map[string][]string
	order  []string
}

// NewReferenceCache creates a cache over the descriptor's reference columns
func NewReferenceCache(desc *schema.Descriptor, sampler ValueSampler) *ReferenceCache {
	return &ReferenceCache{desc: desc, sampler: sampler}
}

// build samples each configured column exactly once. Sampling failures are
// swallowed per column: a missing reference listing degrades prompt quality,
// it never fails the session.
func (c *ReferenceCache) build(ctx context.Context) {
	c.once.Do(func() {
		c.values = make(map[string][]string)
		if c.sampler == nil {
			return
		}
		size := c.desc.Reference.SampleSize
		for _, ref := range c.desc.Reference.Columns {
			key := fmt.Sprintf("%s.%s", ref.Table, ref.Column)
			vals, err := c.sampler.SampleDistinct(ctx, ref.Table, ref.Column, size)
			if err != nil || len(vals) == 0 {
				continue
			}
			c.values[key] = vals
			c.order = append(c.order, key)
		}
	})
}

// PromptText renders the sampled values as a block for the generator prompt.
// Returns "" when no reference columns are configured or sampling yielded
// nothing.
func (c *ReferenceCache) PromptText(ctx context.Context) string {
	c.build(ctx)
	if len(c.order) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Known values for reference columns:\n")
	for _, key := range c.order {
		b.WriteString(fmt.Sprintf("- %s: %s\n", key, strings.Join(c.values[key], ", ")))
	}
	return b.String()
}

// Lookup returns values for a table.column key that approximately match the
// given term, using normalized containment in either direction. "aurora
// metal" matches "Aurora Metals". Used by review feedback to point the next
// turn at the closest real value.
func (c *ReferenceCache) Lookup(ctx context.Context, table, column, term string) []string {
	c.build(ctx)
	vals, ok := c.values[fmt.Sprintf("%s.%s", table, column)]
	if !ok {
		return nil
	}

	want := normalizeTerm(term)
	if want == "" {
		return nil
	}

	var matches []string
	for _, v := range vals {
		have := normalizeTerm(v)
		if strings.Contains(have, want) || strings.Contains(want, have) {
			matches = append(matches, v)
		}
	}
	return matches
}

// normalizeTerm lowercases and strips everything but letters and digits so
// spacing and punctuation differences do not block a match
func normalizeTerm(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
