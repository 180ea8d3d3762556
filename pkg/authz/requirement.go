package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"

	"github.com/tenantunion/tenant-platform/pkg/permissions"
)

type reqMode int

const (
	modeSingle reqMode = iota
	modeAny
	modeAll
)

// Requirement is what a route demands of the caller: one permission, any
// of several, or all of several. The zero value is never satisfied.
type Requirement struct {
	mode  reqMode
	perms []permissions.Permission
}

// Require demands a single permission.
func Require(p permissions.Permission) Requirement {
	return Requirement{mode: modeSingle, perms: []permissions.Permission{p}}
}

// AnyOf is satisfied by at least one of ps. An empty AnyOf is never satisfied.
func AnyOf(ps ...permissions.Permission) Requirement {
	return Requirement{mode: modeAny, perms: clonePerms(ps)}
}

// AllOf is satisfied only by every one of ps. An empty AllOf is always satisfied.
func AllOf(ps ...permissions.Permission) Requirement {
	return Requirement{mode: modeAll, perms: clonePerms(ps)}
}

// Permissions returns the permissions named by r.
func (r Requirement) Permissions() []permissions.Permission {
	return clonePerms(r.perms)
}

// IsZero reports whether r is the zero Requirement.
func (r Requirement) IsZero() bool {
	return r.mode == modeSingle && len(r.perms) == 0
}

// Check evaluates r for s in buildingID.
func (r Requirement) Check(ctx context.Context, ev Evaluator, s Subject, buildingID string) (bool, error) {
	switch r.mode {
	case modeAny:
		return ev.HasAny(ctx, s, buildingID, r.perms)
	case modeAll:
		return ev.HasAll(ctx, s, buildingID, r.perms)
	default:
		if len(r.perms) == 0 {
			return false, nil
		}
		return ev.HasPermission(ctx, s, buildingID, r.perms[0])
	}
}

// SatisfiedBy evaluates r against an already loaded permission set.
func (r Requirement) SatisfiedBy(set permissions.Set) bool {
	switch r.mode {
	case modeAny:
		for _, p := range r.perms {
			if set.Contains(p) {
				return true
			}
		}
		return false
	case modeAll:
		return set.Contains(r.perms...)
	default:
		return len(r.perms) == 1 && set.Contains(r.perms[0])
	}
}

// String renders r in the form accepted by ParseRequirement.
func (r Requirement) String() string {
	switch r.mode {
	case modeAny:
		return "any(" + joinPerms(r.perms) + ")"
	case modeAll:
		return "all(" + joinPerms(r.perms) + ")"
	default:
		if len(r.perms) == 0 {
			return ""
		}
		return string(r.perms[0])
	}
}

// MarshalJSON encodes a single permission as a string and combinators as an array.
func (r Requirement) MarshalJSON() ([]byte, error) {
	if r.mode == modeSingle && len(r.perms) == 1 {
		return json.Marshal(r.perms[0])
	}
	ps := r.perms
	if ps == nil {
		ps = []permissions.Permission{}
	}
	return json.Marshal(ps)
}

// reqExpr is the grammar for textual requirements:
//
//	manage_issues
//	any(view_all_issues, manage_issues)
//	all(manage_units, manage_tenants)
type reqExpr struct {
	Call *reqCall `parser:"  @@"`
	Perm string   `parser:"| @Ident"`
}

type reqCall struct {
	Op   string   `parser:"@(\"any\" | \"all\") \"(\""`
	Args []string `parser:"( @Ident ( \",\" @Ident )* )? \")\""`
}

var reqParser = participle.MustBuild[reqExpr](participle.UseLookahead(2))

// ParseRequirement parses a textual requirement. Every named permission must
// be in the catalog.
func ParseRequirement(expr string) (Requirement, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Requirement{}, fmt.Errorf("parse requirement: empty expression")
	}
	ast, err := reqParser.ParseString("", expr)
	if err != nil {
		return Requirement{}, fmt.Errorf("parse requirement %q: %w", expr, err)
	}

	if ast.Call == nil {
		p, err := permissions.Parse(ast.Perm)
		if err != nil {
			return Requirement{}, err
		}
		return Require(p), nil
	}

	ps, err := permissions.ParseAll(ast.Call.Args)
	if err != nil {
		return Requirement{}, err
	}
	if ast.Call.Op == "all" {
		return AllOf(ps...), nil
	}
	return AnyOf(ps...), nil
}

// MustParseRequirement is like ParseRequirement but panics on error.
func MustParseRequirement(expr string) Requirement {
	r, err := ParseRequirement(expr)
	if err != nil {
		panic(err)
	}
	return r
}

func clonePerms(ps []permissions.Permission) []permissions.Permission {
	if len(ps) == 0 {
		return nil
	}
	out := make([]permissions.Permission, len(ps))
	copy(out, ps)
	return out
}

func joinPerms(ps []permissions.Permission) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}
