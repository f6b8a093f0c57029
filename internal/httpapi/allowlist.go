package httpapi

// StoreAllowList is the configured set of store ids GET /beers accepts for
// its sid query parameter.
type StoreAllowList struct {
	ids map[string]struct{}
}

// NewStoreAllowList builds a StoreAllowList from configured store ids.
func NewStoreAllowList(ids []string) *StoreAllowList {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return &StoreAllowList{ids: set}
}

// Allowed reports whether sid is a configured store id.
func (l *StoreAllowList) Allowed(sid string) bool {
	if l == nil {
		return false
	}
	_, ok := l.ids[sid]
	return ok
}
