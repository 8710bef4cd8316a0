package util

import "sort"

func NewSet() map[string]bool {
	return make(map[string]bool)
}

func AddToSet(set map[string]bool, values ...string) {
	for _, key := range values {
		set[key] = true
	}
}

// AddIfAbsent adds the value and reports whether it was not contained before.
func AddIfAbsent(set map[string]bool, value string) bool {
	if set[value] {
		return false
	}
	set[value] = true
	return true
}

// SortedMembers returns the members of the set in ascending order.
func SortedMembers(set map[string]bool) []string {
	members := make([]string, 0, len(set)) // empty array is default return value
	for key, val := range set {
		if val {
			members = append(members, key)
		}
	}
	sort.Strings(members)
	return members
}
