// cache.go: the calling cache.
//
// A CallingCache memoizes results of user function calls, keyed by the
// closure's session identity and the structural value of its arguments. It
// belongs to exactly one Interpreter and is not safe for concurrent use.
//
// With a limit <= 0 the cache grows without bound and entries are kept in
// insertion order. With a positive limit it evicts the least recently used
// entry once full.
package calc

import (
	"container/list"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CacheEntry is one memoized call.
type CacheEntry struct {
	Fn    *Closure
	Args  []Value
	Value Value
}

// Key renders the call as it would be written, e.g. "f(20)".
func (e CacheEntry) Key() string {
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = a.String()
	}
	name := e.Fn.Proto.Name
	if name == "" {
		name = "lambda#" + strconv.FormatUint(e.Fn.id, 10)
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}

// CacheStats counts cache traffic since creation or the last Clear.
type CacheStats struct {
	Hits      int
	Misses    int
	Stores    int
	Evictions int
}

func (s CacheStats) String() string {
	return fmt.Sprintf("hits=%d misses=%d stores=%d evictions=%d", s.Hits, s.Misses, s.Stores, s.Evictions)
}

// CallingCache maps (function, arguments) to a computed result.
type CallingCache struct {
	limit   int
	entries map[string]*list.Element
	order   *list.List // of *cacheItem, oldest at the front
	stats   CacheStats
}

type cacheItem struct {
	key   string
	entry CacheEntry
}

// NewCallingCache creates a cache holding at most limit entries (unbounded
// when limit <= 0).
func NewCallingCache(limit int) *CallingCache {
	return &CallingCache{
		limit:   limit,
		entries: map[string]*list.Element{},
		order:   list.New(),
	}
}

// Lookup returns the cached result of fn(args...).
func (c *CallingCache) Lookup(fn *Closure, args []Value) (Value, bool) {
	key, ok := callKey(fn, args)
	if !ok {
		c.stats.Misses++
		return Null, false
	}
	el, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return Null, false
	}
	c.stats.Hits++
	if c.limit > 0 {
		c.order.MoveToBack(el)
	}
	return el.Value.(*cacheItem).entry.Value, true
}

// Store records the result of fn(args...). The args slice is copied.
func (c *CallingCache) Store(fn *Closure, args []Value, v Value) {
	key, ok := callKey(fn, args)
	if !ok {
		return
	}
	c.stats.Stores++
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheItem).entry.Value = v
		if c.limit > 0 {
			c.order.MoveToBack(el)
		}
		return
	}
	item := &cacheItem{key: key, entry: CacheEntry{Fn: fn, Args: append([]Value(nil), args...), Value: v}}
	c.entries[key] = c.order.PushBack(item)
	for c.limit > 0 && c.order.Len() > c.limit {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheItem).key)
		c.stats.Evictions++
	}
}

// Entries enumerates the cache, oldest (or least recently used) first.
func (c *CallingCache) Entries() []CacheEntry {
	out := make([]CacheEntry, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*cacheItem).entry)
	}
	return out
}

// Len returns the number of entries.
func (c *CallingCache) Len() int { return c.order.Len() }

// Limit returns the configured bound (<= 0 means unbounded).
func (c *CallingCache) Limit() int { return c.limit }

// Clear drops every entry and resets the statistics.
func (c *CallingCache) Clear() {
	c.entries = map[string]*list.Element{}
	c.order.Init()
	c.stats = CacheStats{}
}

// Stats returns the traffic counters.
func (c *CallingCache) Stats() CacheStats { return c.stats }

// callKey encodes the function identity and arguments canonically, so that
// argument lists that are Equal produce the same key. Integral floats in the
// int64 range encode like integers because 2 == 2.0; Equal compares ints and
// floats exactly, so no other float can equal an int. ok is false for
// arguments that have no stable encoding (NaN).
func callKey(fn *Closure, args []Value) (string, bool) {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(fn.id, 10))
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		if !encodeValue(&b, a) {
			return "", false
		}
	}
	b.WriteByte(')')
	return b.String(), true
}

func encodeValue(b *strings.Builder, v Value) bool {
	switch v.Tag {
	case VTNull:
		b.WriteString("n")
	case VTBool:
		if v.Data.(bool) {
			b.WriteString("t")
		} else {
			b.WriteString("f")
		}
	case VTInt:
		b.WriteString("i")
		b.WriteString(strconv.FormatInt(v.Data.(int64), 10))
	case VTNum:
		f := v.Data.(float64)
		switch {
		case math.IsNaN(f):
			return false
		case f == math.Trunc(f) && f >= -(1<<63) && f < 1<<63:
			b.WriteString("i")
			b.WriteString(strconv.FormatInt(int64(f), 10))
		default:
			b.WriteString("d")
			b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		}
	case VTStr:
		b.WriteString("s")
		b.WriteString(strconv.Quote(v.Data.(string)))
	case VTList:
		b.WriteByte('[')
		for i, x := range v.Items() {
			if i > 0 {
				b.WriteByte(',')
			}
			if !encodeValue(b, x) {
				return false
			}
		}
		b.WriteByte(']')
	case VTFun:
		b.WriteString("c")
		b.WriteString(strconv.FormatUint(v.Data.(*Closure).id, 10))
	case VTBuiltin:
		b.WriteString("b")
		b.WriteString(v.Data.(*Builtin).Name)
	default:
		return false
	}
	return true
}
