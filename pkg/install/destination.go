package install

import (
	"strings"

	"github.com/pkg/errors"
)

// DestinationID names one of the fixed places skills can be installed into.
type DestinationID int

// Destinations in picker order
const (
	DestinationGlobal DestinationID = iota
	DestinationProjectTool
	DestinationProjectOther
)

var destinationNames = map[DestinationID]string{
	DestinationGlobal:       "global",
	DestinationProjectTool:  "project_tool",
	DestinationProjectOther: "project_other",
}

var destinationLabels = map[DestinationID]string{
	DestinationGlobal:       "Global",
	DestinationProjectTool:  "Project (tool skills)",
	DestinationProjectOther: "Project (other)",
}

func (d DestinationID) String() string {
	if name, ok := destinationNames[d]; ok {
		return name
	}
	return "unknown"
}

// Label is the human readable name shown in the picker
func (d DestinationID) Label() string {
	if label, ok := destinationLabels[d]; ok {
		return label
	}
	return d.String()
}

// MarshalText implements encoding.TextMarshaler
func (d DestinationID) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ParseDestinationID accepts the config key form ("project_tool") as well as
// dashed or compact spellings.
func ParseDestinationID(s string) (DestinationID, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	for id, name := range destinationNames {
		if normalized == name || normalized == strings.ReplaceAll(name, "_", "") {
			return id, nil
		}
	}
	return 0, errors.Errorf("unknown destination %q (expected global, project_tool or project_other)", s)
}

// AllDestinations returns every destination in picker order
func AllDestinations() []DestinationID {
	return []DestinationID{DestinationGlobal, DestinationProjectTool, DestinationProjectOther}
}

// Destination binds a destination id to its directory.
type Destination struct {
	ID  DestinationID `json:"id" yaml:"id"`
	Dir string        `json:"dir" yaml:"dir"`
}

func (d Destination) String() string {
	return d.ID.String() + " (" + d.Dir + ")"
}
