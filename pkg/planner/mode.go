package planner

import (
	"encoding/json"
	"fmt"

	"github.com/paulschiretz/pgl-roundtrip/pkg/util"
)

// GenerationMode decides when the source tree is regenerated.
type GenerationMode int

// Constants for GenerationMode, acting as an enum.
const (
	GenerateNone GenerationMode = iota
	GenerateOnce
	GenerateEveryTrial
)

var generationModeToString = map[GenerationMode]string{
	GenerateNone:       "none",
	GenerateOnce:       "once",
	GenerateEveryTrial: "every-trial",
}
var stringToGenerationMode = map[string]GenerationMode{}

func init() {
	stringToGenerationMode = util.InvertMap(generationModeToString)
}

// String returns the string representation of a GenerationMode.
func (m GenerationMode) String() string {
	if str, ok := generationModeToString[m]; ok {
		return str
	}
	return fmt.Sprintf("unknown_generation_mode(%d)", m)
}

// ParseGenerationMode parses a string and returns the corresponding GenerationMode.
func ParseGenerationMode(s string) (GenerationMode, error) {
	if mode, ok := stringToGenerationMode[s]; ok {
		return mode, nil
	}
	return 0, fmt.Errorf("invalid generation mode: %q. Must be 'none', 'once' or 'every-trial'", s)
}

// MarshalJSON implements the json.Marshaler interface for GenerationMode.
func (m GenerationMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for GenerationMode.
func (m *GenerationMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("GenerationMode should be a string, got %s", data)
	}

	mode, err := ParseGenerationMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}
