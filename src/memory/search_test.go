package memory

import (
	"testing"
	"time"
)

func TestWildcardMatch(t *testing.T) {
	cases := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"", "", true},
		{"", "a", false},
		{"*", "anything", true},
		{"a*", "abc", true},
		{"a*", "bc", false},
		{"*c", "abc", true},
		{"*c", "abd", false},
		{"a?c", "abc", true},
		{"a?c", "abbc", false},
		{"*b*", "abc", true},
		{"a*d", "abcd", true},
		{"a*d", "abce", false},
		{"a**d", "ad", true},
		{"task/*", "task/cleanup", true},
		{"task/*", "result/cleanup", false},
	}

	for _, c := range cases {
		if got := wildcardMatch(c.pattern, c.s); got != c.want {
			t.Errorf("wildcardMatch(%q, %q) = %v, expected %v", c.pattern, c.s, got, c.want)
		}
	}
}

func TestMatchScore(t *testing.T) {
	if ok, score := matchScore("alpha", "alpha"); !ok || score != 1.0 {
		t.Fatalf("exact match scored (%v, %f)", ok, score)
	}
	if ok, score := matchScore("alph", "alphabet"); !ok || score != 0.5 {
		t.Fatalf("prefix match scored (%v, %f), expected 0.5", ok, score)
	}
	if ok, score := matchScore("", "anything"); !ok || score != 0.5 {
		t.Fatalf("empty pattern scored (%v, %f)", ok, score)
	}
	if ok, score := matchScore("*bet", "alphabet"); !ok || score != 0.5 {
		t.Fatalf("wildcard match scored (%v, %f)", ok, score)
	}
	if ok, _ := matchScore("beta", "alphabet"); ok {
		t.Fatal("non-match should not match")
	}
}

func TestCoordinatorSearch(t *testing.T) {
	advance := mockClock(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	coord, _ := initCoordinator(t)

	seed := []struct {
		key string
		typ MemoryType
	}{
		{"alpha", TypeKnowledge},
		{"alphabet", TypeKnowledge},
		{"beta", TypeResult},
		{"gamma", TypeKnowledge},
	}
	for _, s := range seed {
		if _, err := coord.Store("swarm", s.key, []byte("v"), s.typ, 1, nil); err != nil {
			t.Fatal(err)
		}
		advance(time.Minute)
	}

	//exact beats prefix
	res, err := coord.Search("swarm", SearchOptions{Pattern: "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 || res[0].Key != "alpha" || res[1].Key != "alphabet" {
		t.Fatalf("relevance order wrong: %v", keysOf(res))
	}

	//type filter
	res, err = coord.Search("swarm", SearchOptions{Types: []MemoryType{TypeResult}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Key != "beta" {
		t.Fatalf("type filter returned %v", keysOf(res))
	}

	//wildcard matches tie on score and fall back to key order
	res, err = coord.Search("swarm", SearchOptions{Pattern: "*a*"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 4 || res[0].Key != "alpha" || res[3].Key != "gamma" {
		t.Fatalf("wildcard search returned %v", keysOf(res))
	}

	//recency puts the latest write first
	res, err = coord.Search("swarm", SearchOptions{SortBy: SortRecency})
	if err != nil {
		t.Fatal(err)
	}
	if res[0].Key != "gamma" || res[3].Key != "alpha" {
		t.Fatalf("recency order wrong: %v", keysOf(res))
	}

	//limit caps after ranking
	res, err = coord.Search("swarm", SearchOptions{SortBy: SortRecency, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 || res[0].Key != "gamma" {
		t.Fatalf("limited search returned %v", keysOf(res))
	}
}

func TestSearchSkipsExpiredAndSuperseded(t *testing.T) {
	advance := mockClock(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	coord, store := initCoordinator(t)

	if _, err := coord.Store("swarm", "t1", []byte("v"), TypeTask, 1, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := coord.Store("swarm", "k1", []byte("v"), TypeKnowledge, 1, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := coord.Store("swarm", "k2", []byte("v"), TypeKnowledge, 1, nil); err != nil {
		t.Fatal(err)
	}

	//mark k2 superseded the way consolidation does
	durable, err := store.PeekEntry("swarm", "k2")
	if err != nil {
		t.Fatal(err)
	}
	durable.SupersededBy = "consolidated/x"
	if err := store.SetEntry(durable); err != nil {
		t.Fatal(err)
	}

	advance(31 * time.Minute)

	res, err := coord.Search("swarm", SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Key != "k1" {
		t.Fatalf("search returned %v, expected only k1", keysOf(res))
	}

	res, err = coord.Search("swarm", SearchOptions{IncludeSuperseded: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 {
		t.Fatalf("superseded search returned %v", keysOf(res))
	}

	//sort order with access counts
	if _, err := coord.Retrieve("swarm", "k1"); err != nil {
		t.Fatal(err)
	}
	coord.FlushAccess()

	res, err = coord.Search("swarm", SearchOptions{SortBy: SortAccess, IncludeSuperseded: true})
	if err != nil {
		t.Fatal(err)
	}
	if res[0].Key != "k1" {
		t.Fatalf("access order wrong: %v", keysOf(res))
	}
}

func keysOf(entries []*Entry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}
