package api

// Profile configures the weighted complexity scorer.
// It is decoded from the "scoring" block of the kerf configuration file.
type Profile struct {
	// Kinds holds one entry per node kind. Kinds without an entry score 0
	// plus their aggregated children.
	Kinds []KindProfile `json:"kinds,omitempty" yaml:"kinds" hcl:"kind,block" toml:"kind" validate:"dive"`
}

// KindProfile is the scoring recipe for one node kind.
type KindProfile struct {
	// Name of the kind ("door", "component-door", "section", ...).
	Name string `json:"name" yaml:"name" hcl:"name,label" toml:"name" validate:"required,kind"`
	// Base is added to every node of this kind.
	Base float64 `json:"base,omitempty" yaml:"base" hcl:"base,optional" toml:"base"`
	// Terms read attributes by JSONPath and weight them.
	Terms []Term `json:"terms,omitempty" yaml:"terms" hcl:"term,block" toml:"term" validate:"dive"`
	// Aggregate combines the children's scores: sum (default), max or mean.
	Aggregate string `json:"aggregate,omitempty" yaml:"aggregate" hcl:"aggregate,optional" toml:"aggregate" validate:"omitempty,oneof=sum max mean"`
	// ChildFactor scales the aggregated children's score (default 1).
	ChildFactor *float64 `json:"child_factor,omitempty" yaml:"child_factor" hcl:"child_factor,optional" toml:"child_factor" validate:"omitempty,gte=0"`
	// Formula replaces the weighted recipe with a Lisp expression.
	Formula string `json:"formula,omitempty" yaml:"formula" hcl:"formula,optional" toml:"formula"`
}

// Term weights one attribute.
// Numbers are multiplied by Weight, true booleans add Weight, and strings
// add Weight when they equal Equals (or are non-empty when Equals is unset).
type Term struct {
	Path   string  `json:"path" yaml:"path" hcl:"path,label" toml:"path" validate:"required"`
	Weight float64 `json:"weight" yaml:"weight" hcl:"weight" toml:"weight"`
	Equals string  `json:"equals,omitempty" yaml:"equals" hcl:"equals,optional" toml:"equals"`
}

// Lookup returns the profile entry for kind k.
func (p Profile) Lookup(k Kind) (KindProfile, bool) {
	for _, kp := range p.Kinds {
		if pk, err := ParseKind(kp.Name); err == nil && pk == k {
			return kp, true
		}
	}
	return KindProfile{}, false
}

// Factor returns ChildFactor or its default.
func (kp KindProfile) Factor() float64 {
	if kp.ChildFactor == nil {
		return 1
	}
	return *kp.ChildFactor
}
