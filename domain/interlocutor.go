package domain

import "time"

// FieldStatus is the lifecycle state of a VariableEntry or Asset.
type FieldStatus string

const (
	FieldActive     FieldStatus = "ACTIVE"
	FieldSuperseded FieldStatus = "SUPERSEDED"
	FieldExpired    FieldStatus = "EXPIRED"
	FieldOrphaned   FieldStatus = "ORPHANED"
)

// HistoryEntry is a lightweight snapshot retained when a VariableEntry is
// superseded, expired, or orphaned. It intentionally does not nest a full
// VariableEntry (which would recursively grow history): only the fields
// needed to reconstruct "what was true when" are kept.
type HistoryEntry struct {
	Value      any
	ValueType  string
	RecordedAt time.Time
}

// VariableEntry is one value of one interlocutor field, with lineage.
type VariableEntry struct {
	ID             ID
	Value          any
	ValueType      string
	Source         string // e.g. "customer_data", "session", "extraction"
	Confidence     float64
	Verified       bool
	Status         FieldStatus
	SupersededByID *ID
	SourceItemID   *ID
	SourceItemType string
	ExpiresAt      *time.Time
	History        []HistoryEntry
}

// Asset is a document/media attachment with the same status lifecycle as a
// VariableEntry.
type Asset struct {
	ID             ID
	Kind           string
	URI            string
	Status         FieldStatus
	SupersededByID *ID
	History        []HistoryEntry
}

// ChannelIdentity maps a normalized channel identity to this profile. The
// pair (Channel, ChannelUserID) is unique within a tenant.
type ChannelIdentity struct {
	Channel       string
	ChannelUserID string
}

// InterlocutorProfile is the per-tenant, per-end-user data store.
type InterlocutorProfile struct {
	Timestamps
	TenantScope

	ID               ID
	Fields           map[string][]VariableEntry // all entries, including history, keyed by field name
	Assets           map[string][]Asset
	ChannelIdentities []ChannelIdentity
}

// NewInterlocutorProfile returns an empty profile ready for field updates.
func NewInterlocutorProfile(tenantID, agentID ID) *InterlocutorProfile {
	return &InterlocutorProfile{
		TenantScope: TenantScope{TenantID: tenantID, AgentID: agentID},
		ID:          NewID(),
		Fields:      make(map[string][]VariableEntry),
		Assets:      make(map[string][]Asset),
	}
}

// ActiveField returns the single ACTIVE VariableEntry for name, if any. The
// at-most-one-ACTIVE invariant (spec.md §8 property 3) is maintained by
// UpdateField, so this never needs to scan for ties.
func (p *InterlocutorProfile) ActiveField(name string) (VariableEntry, bool) {
	for _, e := range p.Fields[name] {
		if e.Status == FieldActive {
			return e, true
		}
	}
	return VariableEntry{}, false
}

// UpdateField supersedes any existing ACTIVE entry for name and inserts a new
// ACTIVE entry atomically (from the caller's point of view: both mutations
// happen within this call, under whatever lock the caller holds). Maintains
// spec.md §8 properties 3 (at-most-one-ACTIVE) and 4 (supersession chain
// completeness).
func (p *InterlocutorProfile) UpdateField(name string, value any, valueType, source string, confidence float64, now time.Time) VariableEntry {
	entries := p.Fields[name]
	newEntry := VariableEntry{
		ID:         NewID(),
		Value:      value,
		ValueType:  valueType,
		Source:     source,
		Confidence: confidence,
		Status:     FieldActive,
	}
	for i := range entries {
		if entries[i].Status == FieldActive {
			supersededID := newEntry.ID
			entries[i].Status = FieldSuperseded
			entries[i].SupersededByID = &supersededID
			entries[i].History = append(entries[i].History, HistoryEntry{
				Value:      entries[i].Value,
				ValueType:  entries[i].ValueType,
				RecordedAt: now,
			})
		}
	}
	entries = append(entries, newEntry)
	p.Fields[name] = entries
	return newEntry
}

// ExpireField transitions the ACTIVE entry for name to EXPIRED, if any and if
// it has passed its ExpiresAt. Monotonic ACTIVE->EXPIRED; idempotent
// re-running produces the same outcome (spec.md §5 background task
// contract).
func (p *InterlocutorProfile) ExpireField(name string, now time.Time) bool {
	entries := p.Fields[name]
	for i := range entries {
		if entries[i].Status != FieldActive {
			continue
		}
		if entries[i].ExpiresAt == nil || entries[i].ExpiresAt.After(now) {
			continue
		}
		entries[i].Status = FieldExpired
		return true
	}
	return false
}

// SupersessionChainComplete verifies spec.md §8 property 4: for every
// SUPERSEDED entry with SupersededByID = x, an entry with ID = x of the same
// name exists and is ACTIVE or itself SUPERSEDED/EXPIRED (further along the
// chain, never simply missing).
func (p *InterlocutorProfile) SupersessionChainComplete() bool {
	for _, entries := range p.Fields {
		byID := make(map[ID]VariableEntry, len(entries))
		for _, e := range entries {
			byID[e.ID] = e
		}
		for _, e := range entries {
			if e.Status != FieldSuperseded || e.SupersededByID == nil {
				continue
			}
			next, ok := byID[*e.SupersededByID]
			if !ok {
				return false
			}
			switch next.Status {
			case FieldActive, FieldSuperseded, FieldExpired:
			default:
				return false
			}
		}
	}
	return true
}
