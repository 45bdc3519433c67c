package calc

import (
	"math"
	"testing"
)

func testClosure(name string, id uint64) *Closure {
	return &Closure{Proto: &FuncProto{Name: name, Params: []string{"n"}}, id: id}
}

func Test_Cache_StructuralKeys(t *testing.T) {
	c := NewCallingCache(0)
	f := testClosure("f", 1)

	c.Store(f, []Value{Int(2)}, Int(4))
	if v, ok := c.Lookup(f, []Value{Num(2.0)}); !ok || !Equal(v, Int(4)) {
		t.Fatalf("2.0 should hit the entry for 2: %v %v", v, ok)
	}
	if _, ok := c.Lookup(f, []Value{Num(2.5)}); ok {
		t.Fatal("2.5 must miss")
	}

	c.Store(f, []Value{List(Int(1), Str("a"))}, Int(7))
	if _, ok := c.Lookup(f, []Value{List(Num(1), Str("a"))}); !ok {
		t.Fatal("structurally equal lists should hit")
	}
	if _, ok := c.Lookup(f, []Value{List(Int(1), Str("b"))}); ok {
		t.Fatal("different lists must miss")
	}
	if _, ok := c.Lookup(f, []Value{Str("2")}); ok {
		t.Fatal(`"2" must not collide with 2`)
	}
}

func Test_Cache_KeysAgreeWithEqual(t *testing.T) {
	c := NewCallingCache(0)
	f := testClosure("f", 1)
	cases := []struct {
		stored, probe Value
	}{
		{Int(1 << 53), Num(1 << 53)},
		{Int(1<<53 + 1), Num(1 << 53)},
		{Int(math.MinInt64), Num(-(1 << 63))},
		{Num(1e300), Num(1e300)},
		{Num(math.Copysign(0, -1)), Int(0)},
		{List(Int(3)), List(Num(3.0000000000000004))},
	}
	for _, tc := range cases {
		c.Clear()
		c.Store(f, []Value{tc.stored}, Int(1))
		_, hit := c.Lookup(f, []Value{tc.probe})
		if eq := Equal(tc.stored, tc.probe); hit != eq {
			t.Fatalf("f(%s) then f(%s): Equal=%v but hit=%v", tc.stored, tc.probe, eq, hit)
		}
	}
}

func Test_Cache_FunctionIdentity(t *testing.T) {
	c := NewCallingCache(0)
	f := testClosure("f", 1)
	g := testClosure("f", 2)
	c.Store(f, []Value{Int(1)}, Int(10))
	if _, ok := c.Lookup(g, []Value{Int(1)}); ok {
		t.Fatal("a different closure with the same name must miss")
	}
}

func Test_Cache_NaNArgumentsAreNotCached(t *testing.T) {
	c := NewCallingCache(0)
	f := testClosure("f", 1)
	c.Store(f, []Value{Num(math.NaN())}, Int(1))
	if c.Len() != 0 {
		t.Fatalf("NaN argument stored: %d entries", c.Len())
	}
}

func Test_Cache_StoreCopiesArgs(t *testing.T) {
	c := NewCallingCache(0)
	f := testClosure("f", 1)
	args := []Value{Int(3)}
	c.Store(f, args, Int(9))
	args[0] = Int(4)
	if got := c.Entries()[0].Key(); got != "f(3)" {
		t.Fatalf("entry key: %s", got)
	}
}

func Test_Cache_LRU_Eviction(t *testing.T) {
	c := NewCallingCache(2)
	f := testClosure("f", 1)
	c.Store(f, []Value{Int(1)}, Int(1))
	c.Store(f, []Value{Int(2)}, Int(2))
	c.Lookup(f, []Value{Int(1)}) // 1 is now most recently used
	c.Store(f, []Value{Int(3)}, Int(3))

	if c.Len() != 2 || c.Limit() != 2 {
		t.Fatalf("len %d limit %d", c.Len(), c.Limit())
	}
	if _, ok := c.Lookup(f, []Value{Int(2)}); ok {
		t.Fatal("f(2) should have been evicted")
	}
	var keys []string
	for _, e := range c.Entries() {
		keys = append(keys, e.Key())
	}
	if len(keys) != 2 || keys[0] != "f(1)" || keys[1] != "f(3)" {
		t.Fatalf("entries: %v", keys)
	}
	if st := c.Stats(); st.Evictions != 1 || st.Stores != 3 || st.Hits != 1 || st.Misses != 1 {
		t.Fatalf("stats: %s", st)
	}
}

func Test_Cache_Unbounded_KeepsInsertionOrder(t *testing.T) {
	c := NewCallingCache(0)
	f := testClosure("f", 1)
	for i := int64(5); i > 0; i-- {
		c.Store(f, []Value{Int(i)}, Int(i*i))
	}
	c.Lookup(f, []Value{Int(5)})
	e := c.Entries()
	if len(e) != 5 || e[0].Key() != "f(5)" || e[4].Key() != "f(1)" || !Equal(e[0].Value, Int(25)) {
		t.Fatalf("entries: %+v", e)
	}
}

func Test_Cache_Clear(t *testing.T) {
	c := NewCallingCache(0)
	f := testClosure("f", 1)
	c.Store(f, []Value{Int(1)}, Int(1))
	c.Clear()
	if c.Len() != 0 || len(c.Entries()) != 0 || c.Stats() != (CacheStats{}) {
		t.Fatal("Clear left state behind")
	}
	if _, ok := c.Lookup(f, []Value{Int(1)}); ok {
		t.Fatal("lookup after Clear should miss")
	}
}

func Test_Cache_EntryKey_Lambda(t *testing.T) {
	e := CacheEntry{Fn: &Closure{Proto: &FuncProto{}, id: 7}, Args: []Value{Int(1), Str("x")}}
	if e.Key() != `lambda#7(1, "x")` {
		t.Fatalf("key: %s", e.Key())
	}
}
