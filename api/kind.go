package api

import (
	"fmt"
	"strings"
)

// Kind identifies one of the node kinds of the cabinetry hierarchy.
// The hierarchy is fixed: four sibling leaf kinds at level 0 and one kind
// per level above them, up to the project root at level 6.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindDoor
	KindDrawer
	KindShelf
	KindPullout
	KindSection
	KindCabinet
	KindRun
	KindLocation
	KindRoom
	KindProject
)

// ProjectLevel is the level of the root kind.
const ProjectLevel = 6

var kindNames = [...]string{
	KindUnknown:  "unknown",
	KindDoor:     "component-door",
	KindDrawer:   "component-drawer",
	KindShelf:    "component-shelf",
	KindPullout:  "component-pullout",
	KindSection:  "section",
	KindCabinet:  "cabinet",
	KindRun:      "run",
	KindLocation: "location",
	KindRoom:     "room",
	KindProject:  "project",
}

var kindAliases = map[string]Kind{
	"door":          KindDoor,
	"panel-door":    KindDoor,
	"drawer":        KindDrawer,
	"shelf":         KindShelf,
	"pullout":       KindPullout,
	"pull-out":      KindPullout,
	"cabinet-run":   KindRun,
	"room-location": KindLocation,
}

// String returns the label used in reports and refs.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Short returns the name without the "component-" prefix.
func (k Kind) Short() string {
	return strings.TrimPrefix(k.String(), "component-")
}

// Valid reports whether k is one of the ten concrete kinds.
func (k Kind) Valid() bool {
	return k >= KindDoor && k <= KindProject
}

// IsLeaf reports whether k is a leaf component kind.
func (k Kind) IsLeaf() bool {
	return k >= KindDoor && k <= KindPullout
}

// Level returns the depth of k counted from the leaves (0) to the project (6).
// Invalid kinds return -1.
func (k Kind) Level() int {
	switch {
	case !k.Valid():
		return -1
	case k.IsLeaf():
		return 0
	default:
		return int(k-KindSection) + 1
	}
}

// ParentKind returns the kind of the node that owns a node of kind k.
// Projects have no parent and return KindUnknown.
func (k Kind) ParentKind() Kind {
	switch {
	case k.IsLeaf():
		return KindSection
	case k >= KindSection && k < KindProject:
		return k + 1
	default:
		return KindUnknown
	}
}

// ChildKinds returns the kinds a node of kind k may own.
func (k Kind) ChildKinds() []Kind {
	switch {
	case k == KindSection:
		return []Kind{KindDoor, KindDrawer, KindShelf, KindPullout}
	case k > KindSection && k <= KindProject:
		return []Kind{k - 1}
	default:
		return nil
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseKind accepts a report label ("component-door") or a short name ("door").
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k := KindDoor; k <= KindProject; k++ {
		if s == kindNames[k] || s == k.Short() {
			return k, nil
		}
	}
	if k, ok := kindAliases[s]; ok {
		return k, nil
	}
	return KindUnknown, fmt.Errorf("unknown kind %q", s)
}

// BottomUp returns every concrete kind ordered so that each kind appears
// after all kinds that can be its descendants.
func BottomUp() []Kind {
	return []Kind{
		KindDoor, KindDrawer, KindShelf, KindPullout,
		KindSection, KindCabinet, KindRun, KindLocation, KindRoom, KindProject,
	}
}
