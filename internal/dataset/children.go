package dataset

import (
	"iter"
	"slices"
)

// children is a name-keyed child collection that iterates in sorted order.
type children[T any] struct {
	byName map[string]T
	names  []string
}

func (c *children[T]) get(name string) (T, bool) {
	v, ok := c.byName[name]
	return v, ok
}

// put inserts a new name. Callers check for an existing entry first.
func (c *children[T]) put(name string, v T) {
	if c.byName == nil {
		c.byName = make(map[string]T)
	}
	if _, ok := c.byName[name]; !ok {
		i, _ := slices.BinarySearch(c.names, name)
		c.names = slices.Insert(c.names, i, name)
	}
	c.byName[name] = v
}

func (c *children[T]) len() int { return len(c.names) }

// all yields children in name order. The sequence can be ranged over repeatedly.
func (c *children[T]) all() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, name := range c.names {
			if !yield(c.byName[name]) {
				return
			}
		}
	}
}
