package transformer

import (
	"fmt"

	"csvpipeline/internal/schema"
	"csvpipeline/internal/transformer/builtin"
)

// Unmapped column policies.
const (
	UnmappedKeep = "keep"
	UnmappedDrop = "drop"
)

// colPlan says where an output column comes from and how to coerce it.
type colPlan struct {
	src     int
	mapping *schema.ColumnMapping // nil for kept unmapped columns
}

// plan is compiled once per chunk from its header so rows need no lookups.
type plan struct {
	header   []string
	cols     []colPlan
	errorSrc int // index of an incoming Error column, or -1
}

func compilePlan(reg *schema.Registry, raw []string, unmapped string) (plan, error) {
	p := plan{errorSrc: -1}
	seen := make(map[string]string, len(raw))
	for i, h := range raw {
		name := builtin.NormalizeHeader(h)
		if name == schema.ErrorColumn {
			p.errorSrc = i
			continue
		}
		m, ok := reg.Lookup(name)
		if !ok {
			if unmapped == UnmappedDrop {
				continue
			}
			p.header = append(p.header, name)
			p.cols = append(p.cols, colPlan{src: i})
			continue
		}
		if prev, dup := seen[m.Standard]; dup {
			return plan{}, fmt.Errorf("%w: headers %q and %q both map to %s", schema.ErrCorruptSchema, prev, name, m.Standard)
		}
		seen[m.Standard] = name
		p.header = append(p.header, m.Standard)
		p.cols = append(p.cols, colPlan{src: i, mapping: &m})
	}
	return p, nil
}
