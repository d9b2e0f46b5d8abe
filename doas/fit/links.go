package fit

import (
	"fmt"
	"strings"
)

type paramKind int

const (
	kindColumn paramKind = iota
	kindShift
	kindSqueeze
)

func (k paramKind) String() string {
	switch k {
	case kindShift:
		return "shift"
	case kindSqueeze:
		return "squeeze"
	}
	return "column"
}

func (s *termSpec) param(k paramKind) Param {
	switch k {
	case kindShift:
		return s.shift
	case kindSqueeze:
		return s.squeeze
	}
	return s.column
}

// resolveLinks returns for every term the index of the term owning the
// parameter of kind k after following link chains.
func resolveLinks(specs []termSpec, k paramKind) ([]int, error) {
	index := make(map[string]int, len(specs))
	for i, s := range specs {
		index[strings.ToLower(strings.TrimSpace(s.name))] = i
	}

	roots := make([]int, len(specs))
	for i := range specs {
		cur := i
		seen := map[int]bool{}
		for specs[cur].param(k).Option == OptionLink {
			if seen[cur] {
				return nil, fmt.Errorf("%w: %s of %q", ErrLinkCycle, k, specs[i].name)
			}
			seen[cur] = true
			target := specs[cur].param(k).Link
			j, ok := index[strings.ToLower(strings.TrimSpace(target))]
			if !ok {
				return nil, fmt.Errorf("%w: %s of %q links to %q", ErrUnknownLink, k, specs[cur].name, target)
			}
			cur = j
		}
		roots[i] = cur
	}
	return roots, nil
}
