package engine

import "fmt"

// ReplacementPolicy decides how a tracked child that was removed from a
// collection and a new child carrying the same key are written.
//
// The save-behavior filter always applies per planned operation kind. The
// policy only decides which operations are planned, so a replaced child
// either gets insert semantics or update semantics, never a mix.
type ReplacementPolicy int

const (
	// ReplaceDeleteInsert deletes the old row and inserts the new one. The
	// new row gets its OmitOnUpdate values (a fresh CreatedAt) and none of
	// its OmitOnInsert values (a null UpdatedAt).
	ReplaceDeleteInsert ReplacementPolicy = iota

	// ReplaceUpdateInPlace merges the pair into one update of the old row.
	// The row keeps its OmitOnUpdate values (the old CreatedAt) and takes
	// the new OmitOnInsert values (the new UpdatedAt).
	ReplaceUpdateInPlace
)

func (p ReplacementPolicy) String() string {
	switch p {
	case ReplaceDeleteInsert:
		return "delete_insert"
	case ReplaceUpdateInPlace:
		return "update_in_place"
	}
	return fmt.Sprintf("ReplacementPolicy(%d)", int(p))
}

// ParseReplacementPolicy accepts the names produced by String. The empty
// string selects the default.
func ParseReplacementPolicy(s string) (ReplacementPolicy, error) {
	switch s {
	case "", "delete_insert":
		return ReplaceDeleteInsert, nil
	case "update_in_place":
		return ReplaceUpdateInPlace, nil
	}
	return ReplaceDeleteInsert, fmt.Errorf("unknown replacement policy %q (want delete_insert or update_in_place)", s)
}
