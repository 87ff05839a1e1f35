package entity

import "time"

// SchemaVersion is the envelope schema version this build writes. Readers
// must accept this and the previous major.
const SchemaVersion = "1.0.0"

// Snapshot is the canonical, immutable envelope stored at
// {external_id}/r{revision_id}.json. Every field that participates in the
// content hash must round-trip through canonical JSON unchanged; see
// internal/hashing.
type Snapshot struct {
	SchemaVersion string     `json:"schema_version"`
	RevisionID    RevisionID `json:"revision_id"`
	CreatedAt     time.Time  `json:"created_at"`
	CreatedBy     string     `json:"created_by"`
	EntityType    Type       `json:"entity_type"`
	EditType      string     `json:"edit_type"`
	ContentHash   uint64     `json:"content_hash"`

	RedirectsTo *ExternalID `json:"redirects_to,omitempty"`

	IsDeleted      bool       `json:"is_deleted,omitempty"`
	DeletionReason string     `json:"deletion_reason,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	DeletedBy      string     `json:"deleted_by,omitempty"`

	Entity Body `json:"entity"`
}

// Body is the dynamic, schema-flexible entity payload.
type Body struct {
	ID          ExternalID             `json:"id"`
	Type        Type                   `json:"type"`
	Labels      map[string]string      `json:"labels,omitempty"`
	Descriptions map[string]string     `json:"descriptions,omitempty"`
	Aliases     map[string][]string    `json:"aliases,omitempty"`
	Claims      map[string][]Claim     `json:"claims,omitempty"`
	Sitelinks   map[string]Sitelink    `json:"sitelinks,omitempty"`
}

// Sitelink is an opaque per-project page reference; the core never
// interprets it beyond carrying it through hashing and storage.
type Sitelink struct {
	Site  string   `json:"site"`
	Title string   `json:"title"`
	Badges []string `json:"badges,omitempty"`
}

// Claim is a single statement: a property, its value, and the value's kind.
// The core inspects Kind only for hashing and for detecting the
// single-hop-redirect value kind; everything else passes through opaquely.
type Claim struct {
	Property string `json:"property"`
	Value    Value  `json:"value"`
	Rank     string `json:"rank,omitempty"`
}

// ValueKind is the sum-type discriminant for a claim's value, per §9.
type ValueKind string

const (
	ValueEntity          ValueKind = "entity"
	ValueString          ValueKind = "string"
	ValueTime            ValueKind = "time"
	ValueQuantity        ValueKind = "quantity"
	ValueGlobe           ValueKind = "globe"
	ValueMonolingual     ValueKind = "monolingual"
	ValueExternalID      ValueKind = "external_id"
	ValueCommonsMedia    ValueKind = "commons_media"
	ValueGeoShape        ValueKind = "geo_shape"
	ValueTabularData     ValueKind = "tabular_data"
	ValueMusicalNotation ValueKind = "musical_notation"
	ValueURL             ValueKind = "url"
	ValueMath            ValueKind = "math"
	ValueEntitySchema    ValueKind = "entity_schema"
)

// Value is a tagged union over the value kinds above: Kind names the
// kind and Raw carries its payload opaquely, which keeps canonical
// hashing stable across schema additions.
type Value struct {
	Kind ValueKind       `json:"kind"`
	Raw  map[string]any  `json:"raw"`
}

// ReferencedEntity returns the external ID an "entity" kind value points
// at. The write pipeline does not call it.
func (v Value) ReferencedEntity() (ExternalID, bool) {
	if v.Kind != ValueEntity {
		return "", false
	}
	id, ok := v.Raw["id"].(string)
	if !ok {
		return "", false
	}
	return ExternalID(id), true
}
