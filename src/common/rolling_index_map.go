package common

// RollingIndexMap is a collection of RollingIndexes keyed by string.
type RollingIndexMap struct {
	name    string
	size    int
	keys    []string
	mapping map[string]*RollingIndex
}

// NewRollingIndexMap creates a new RollingIndexMap where each RollingIndex has
// the specified size.
func NewRollingIndexMap(name string, size int) *RollingIndexMap {
	return &RollingIndexMap{
		name:    name,
		size:    size,
		keys:    []string{},
		mapping: make(map[string]*RollingIndex),
	}
}

// AddKey adds a new RollingIndex to the map and returns a KeyAlreadyExists if
// the key already exists.
func (rim *RollingIndexMap) AddKey(key string) error {
	if _, ok := rim.mapping[key]; ok {
		return NewStoreErr(rim.name, KeyAlreadyExists, key)
	}
	rim.keys = append(rim.keys, key)
	rim.mapping[key] = NewRollingIndex(rim.name+"["+key+"]", rim.size)
	return nil
}

// Get returns all the items with index greater than skipIndex from the
// RollingIndex identified by key.
func (rim *RollingIndexMap) Get(key string, skipIndex int) ([]interface{}, error) {
	items, ok := rim.mapping[key]
	if !ok {
		return nil, NewStoreErr(rim.name, KeyNotFound, key)
	}

	cached, err := items.Get(skipIndex)
	if err != nil {
		return nil, err
	}

	return cached, nil
}

// GetItem returns a specific item from a specific RollingIndex.
func (rim *RollingIndexMap) GetItem(key string, index int) (interface{}, error) {
	items, ok := rim.mapping[key]
	if !ok {
		return nil, NewStoreErr(rim.name, KeyNotFound, key)
	}
	return items.GetItem(index)
}

// GetLast returns the last item from a RollingIndex identified by key.
func (rim *RollingIndexMap) GetLast(key string) (interface{}, error) {
	pe, ok := rim.mapping[key]
	if !ok {
		return nil, NewStoreErr(rim.name, KeyNotFound, key)
	}
	cached, _ := pe.GetLastWindow()
	if len(cached) == 0 {
		return "", NewStoreErr(rim.name, Empty, key)
	}
	return cached[len(cached)-1], nil
}

// GetLastN returns up to n of the most recent items from a RollingIndex
// identified by key, oldest first. A missing key yields an empty slice.
func (rim *RollingIndexMap) GetLastN(key string, n int) []interface{} {
	pe, ok := rim.mapping[key]
	if !ok {
		return nil
	}
	return pe.GetLastN(n)
}

// Set inserts or updates an item into a RollingIndex identified by key.
func (rim *RollingIndexMap) Set(key string, item interface{}, index int) error {
	items, ok := rim.mapping[key]
	if !ok {
		items = NewRollingIndex(rim.name+"["+key+"]", rim.size)
		rim.keys = append(rim.keys, key)
		rim.mapping[key] = items
	}
	return items.Set(item, index)
}

// Known returns a mapping of key to last known index.
func (rim *RollingIndexMap) Known() map[string]int {
	known := make(map[string]int)
	for k, items := range rim.mapping {
		_, lastIndex := items.GetLastWindow()
		known[k] = lastIndex
	}
	return known
}

// Remove drops the RollingIndex identified by key.
func (rim *RollingIndexMap) Remove(key string) {
	if _, ok := rim.mapping[key]; !ok {
		return
	}
	delete(rim.mapping, key)
	for i, k := range rim.keys {
		if k == key {
			rim.keys = append(rim.keys[:i], rim.keys[i+1:]...)
			break
		}
	}
}
