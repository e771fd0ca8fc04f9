package search

import "fmt"

// Kind selects the search strategy.
type Kind int

const (
	// ByAttribute matches users whose attribute values contain Value exactly.
	ByAttribute Kind = iota + 1
	// ByGroup lists the members of a group.
	ByGroup
	// ByQuery delegates free-text matching to the store.
	ByQuery
)

func (k Kind) String() string {
	switch k {
	case ByAttribute:
		return "attribute"
	case ByGroup:
		return "group"
	case ByQuery:
		return "query"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Criterion describes one search. Only the fields of the active Kind are set.
type Criterion struct {
	Kind Kind

	Name  string // ByAttribute
	Value string // ByAttribute

	GroupID string // ByGroup

	Query string // ByQuery
}

// AttributeCriterion returns a ByAttribute criterion.
func AttributeCriterion(name, value string) Criterion {
	return Criterion{Kind: ByAttribute, Name: name, Value: value}
}

// GroupCriterion returns a ByGroup criterion.
func GroupCriterion(groupID string) Criterion {
	return Criterion{Kind: ByGroup, GroupID: groupID}
}

// QueryCriterion returns a ByQuery criterion.
func QueryCriterion(query string) Criterion {
	return Criterion{Kind: ByQuery, Query: query}
}
