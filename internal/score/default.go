package score

import "github.com/kerfworks/kerf/api"

// DefaultProfile returns the built-in shop weights. Every level adds its own
// effort to the sum of its children.
func DefaultProfile() api.Profile {
	return api.Profile{Kinds: []api.KindProfile{
		{Name: "door", Base: 2, Terms: []api.Term{
			{Path: "height_mm", Weight: 0.001},
			{Path: "glass", Weight: 1.5},
			{Path: "style", Weight: 2, Equals: "raised-panel"},
			{Path: "style", Weight: 1, Equals: "shaker"},
		}},
		{Name: "drawer", Base: 3, Terms: []api.Term{
			{Path: "width_mm", Weight: 0.002},
			{Path: "dovetail", Weight: 2},
			{Path: "soft_close", Weight: 0.5},
		}},
		{Name: "shelf", Base: 1, Terms: []api.Term{
			{Path: "width_mm", Weight: 0.001},
			{Path: "adjustable", Weight: 0.5},
		}},
		{Name: "pullout", Base: 4, Terms: []api.Term{
			{Path: "soft_close", Weight: 0.5},
			{Path: "$.baskets[*]", Weight: 0.75},
		}},
		{Name: "section", Base: 0.5},
		{Name: "cabinet", Base: 2, Terms: []api.Term{
			{Path: "width_mm", Weight: 0.002},
			{Path: "corner", Weight: 3},
			{Path: "finish", Weight: 1.5, Equals: "paint"},
		}},
		{Name: "run", Base: 1, Terms: []api.Term{
			{Path: "scribe", Weight: 1},
		}},
		{Name: "location", Base: 0},
		{Name: "room", Base: 0},
		{Name: "project", Base: 0},
	}}
}
