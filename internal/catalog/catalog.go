package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Role buckets style adapters so quotas can cap how many of each kind ride on
// a single request.
type Role string

const (
	RoleCharacter  Role = "character"
	RoleNSFW       Role = "nsfw"
	RoleExpression Role = "expression"
	RoleGeneral    Role = "general"
	RoleMisc       Role = "misc"
)

// rolePriority fixes the selector's output ordering between roles.
var rolePriority = []Role{RoleCharacter, RoleNSFW, RoleExpression, RoleGeneral, RoleMisc}

// StyleAdapter is one injectable style/identity modifier (a LoRA).
type StyleAdapter struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Role     Role     `json:"role"`
	// Rank decides who survives quota and provider trims; lower wins.
	// Adapters without a rank in the catalog default to last place.
	Rank         int     `json:"rank"`
	Weight       float64 `json:"weight"`
	PrependText  string  `json:"prepend_prompt"`
	AppendText   string  `json:"append_prompt"`
	NegativeText string  `json:"negative_prompt"`
	SourceRef    string  `json:"source_ref"`
	Permanent    bool    `json:"permanent"`

	// pos is the adapter's position in the catalog file, used to break rank
	// ties deterministically.
	pos int
}

// InlineSpec reports whether the adapter's source reference is an inline
// provider-style model spec (name:id@version). Only backends that resolve
// such specs natively may receive these adapters.
func (a StyleAdapter) InlineSpec() bool {
	ref := strings.TrimSpace(a.SourceRef)
	return strings.Contains(ref, ":") && strings.Contains(ref, "@") &&
		!strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://")
}

type catalogFile struct {
	Config struct {
		DefaultNegativePrompt string `json:"default_negative_prompt"`
	} `json:"config"`
	Adapters []adapterRecord `json:"adapters"`
}

// adapterRecord shadows Rank with a pointer so a missing rank is
// distinguishable from an explicit 0 and can default to last place.
type adapterRecord struct {
	StyleAdapter
	Rank *int `json:"rank"`
}

// defaultRank puts unranked adapters behind every ranked one, so they are the
// first to go when quotas or provider caps trim the selection.
const defaultRank = 999

// Catalog is the immutable, process-lifetime dictionary of style adapters.
// It is read-only shared state; concurrent requests never mutate it.
type Catalog struct {
	adapters        []StyleAdapter
	defaultNegative string
}

// Load reads the adapter dictionary from disk. IDs must be unique; ranks may
// collide, in which case file order decides.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read adapter catalog: %w", err)
	}
	return Parse(raw)
}

// Parse decodes catalog JSON. Split from Load so tests can feed literals.
func Parse(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode adapter catalog: %w", err)
	}

	adapters := make([]StyleAdapter, 0, len(file.Adapters))
	seen := make(map[string]struct{}, len(file.Adapters))
	for i, rec := range file.Adapters {
		a := rec.StyleAdapter
		if strings.TrimSpace(a.ID) == "" {
			return nil, fmt.Errorf("adapter catalog: entry %d missing id", i)
		}
		if _, dup := seen[a.ID]; dup {
			return nil, fmt.Errorf("adapter catalog: duplicate id %q", a.ID)
		}
		seen[a.ID] = struct{}{}
		if a.Role == "" {
			a.Role = RoleMisc
		}
		if a.Weight == 0 {
			a.Weight = 1.0
		}
		a.Rank = defaultRank
		if rec.Rank != nil {
			a.Rank = *rec.Rank
		}
		a.pos = i
		adapters = append(adapters, a)
	}

	return &Catalog{
		adapters:        adapters,
		defaultNegative: file.Config.DefaultNegativePrompt,
	}, nil
}

// Len reports the number of adapters in the catalog.
func (c *Catalog) Len() int { return len(c.adapters) }

// DefaultNegativePrompt returns the catalog-wide negative prompt baseline.
func (c *Catalog) DefaultNegativePrompt() string { return c.defaultNegative }
