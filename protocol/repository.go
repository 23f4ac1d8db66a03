package protocol

import (
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/xrayconsole/workflowengine/core"
)

// Repository is a read-mostly, composite-key-indexed store of protocols.
// Writes are confined to a privileged configuration load path, never
// exposed to the clinical workflow (spec §5).
type Repository struct {
	mu        sync.RWMutex
	byKey     map[Key]Protocol
	byID      map[string]Protocol
	byCode    map[string][]string // procedure code -> protocol IDs, highest confidence first
	fuzzy     FuzzyMatcher
	fuzzyOn   bool
}

// NewRepository builds an empty repository. Load or LoadYAML populate it.
func NewRepository() *Repository {
	return &Repository{
		byKey:  make(map[Key]Protocol),
		byID:   make(map[string]Protocol),
		byCode: make(map[string][]string),
	}
}

// EnableFuzzyMatch turns on Levenshtein-distance fallback matching for
// unmapped procedure codes. Disabled by default, matching spec §9d's
// "exact match only unless configured otherwise".
func (r *Repository) EnableFuzzyMatch(matcher FuzzyMatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fuzzy = matcher
	r.fuzzyOn = true
}

// Load replaces the repository contents with protocols.
func (r *Repository) Load(protocols []Protocol) error {
	byKey := make(map[Key]Protocol, len(protocols))
	byID := make(map[string]Protocol, len(protocols))
	byCode := make(map[string][]string)

	for _, p := range protocols {
		if p.ProtocolID == "" {
			return core.NewEngineError("protocol.Load", core.KindInternalError, fmt.Errorf("protocol missing protocol_id"))
		}
		byKey[keyOf(p)] = p
		byID[p.ProtocolID] = p
		for _, code := range p.ProcedureCodes {
			byCode[code] = append(byCode[code], p.ProtocolID)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey = byKey
	r.byID = byID
	r.byCode = byCode
	return nil
}

// LoadYAML parses a YAML seed list (a top-level `protocols:` sequence) and
// loads it.
func (r *Repository) LoadYAML(data []byte) error {
	var doc struct {
		Protocols []Protocol `yaml:"protocols"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return core.NewEngineError("protocol.LoadYAML", core.KindInternalError, err)
	}
	return r.Load(doc.Protocols)
}

// Lookup finds the protocol at (body_part, projection, device_model). It is
// a plain map lookup, O(1) regardless of repository size, comfortably
// within the 50ms-at-500-protocols budget (spec §4.5, §8).
func (r *Repository) Lookup(key Key) (Protocol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byKey[key]
	return p, ok
}

// ByID returns the protocol with the given ProtocolID.
func (r *Repository) ByID(id string) (Protocol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// All returns every loaded protocol (IsActive is not consulted), used to
// offer an unfiltered list when
// a procedure code has no mapping (spec §4.5).
func (r *Repository) All() []Protocol {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Protocol, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	return out
}

// MapProcedureCode resolves a scheduled-procedure code to its
// highest-confidence protocol. ok=false means no mapping exists and the
// caller must fall back to offering the unfiltered protocol list — an
// unmapped code must never block entry to ProtocolSelect.
func (r *Repository) MapProcedureCode(code string) (Protocol, bool) {
	r.mu.RLock()
	ids, exact := r.byCode[code]
	fuzzyOn := r.fuzzyOn
	fuzzy := r.fuzzy
	r.mu.RUnlock()

	if exact && len(ids) > 0 {
		p, ok := r.ByID(ids[0])
		return p, ok
	}
	if fuzzyOn && fuzzy != nil {
		if id, ok := fuzzy.Match(code, r.knownCodes()); ok {
			r.mu.RLock()
			candidateIDs := r.byCode[id]
			r.mu.RUnlock()
			if len(candidateIDs) > 0 {
				p, ok := r.ByID(candidateIDs[0])
				return p, ok
			}
		}
	}
	return Protocol{}, false
}

func (r *Repository) knownCodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.byCode))
	for code := range r.byCode {
		codes = append(codes, code)
	}
	return codes
}
