package treecompare

import (
	"encoding/json"
	"fmt"

	"github.com/paulschiretz/pgl-roundtrip/pkg/util"
)

// Strategy selects how the entries of two directories are paired up.
type Strategy int

const (
	// Positional sorts both listings by name and pairs them by index. Two
	// directories with the same number of entries but different names are
	// still paired, which surfaces as a content or type mismatch. Entries
	// beyond the shorter listing are mismatches.
	Positional Strategy = iota
	// ByName pairs entries with equal names. A name present on only one side
	// is a mismatch.
	ByName
)

var strategyToString = map[Strategy]string{
	Positional: "positional",
	ByName:     "by-name",
}
var stringToStrategy = map[string]Strategy{}

func init() {
	stringToStrategy = util.InvertMap(strategyToString)
}

// String returns the string representation of a Strategy.
func (s Strategy) String() string {
	if str, ok := strategyToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_compare_strategy(%d)", s)
}

// ParseStrategy parses a string and returns the corresponding Strategy.
func ParseStrategy(s string) (Strategy, error) {
	if strategy, ok := stringToStrategy[s]; ok {
		return strategy, nil
	}
	return 0, fmt.Errorf("invalid compare strategy: %q. Must be 'positional' or 'by-name'", s)
}

// MarshalJSON implements the json.Marshaler interface for Strategy.
func (s Strategy) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Strategy.
func (s *Strategy) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("Strategy should be a string, got %s", data)
	}
	strategy, err := ParseStrategy(str)
	if err != nil {
		return err
	}
	*s = strategy
	return nil
}
