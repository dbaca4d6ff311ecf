package entity

import "time"

// Metadata keys copied from a source document onto its vector record.
const (
	MetadataHeadline       = "headline"
	MetadataState          = "state"
	MetadataDisplayDate    = "displayDate"
	MetadataTags           = "tags"
	MetadataCategory       = "category"
	MetadataContentType    = "contentType"
	MetadataSubContentType = "subContentType"
	MetadataInstance       = "instance"
	MetadataAuthor         = "author"
)

// VectorMetadataKeys lists, in order, the document fields selected for vector metadata.
var VectorMetadataKeys = []string{
	MetadataHeadline,
	MetadataState,
	MetadataDisplayDate,
	MetadataTags,
	MetadataCategory,
	MetadataContentType,
	MetadataSubContentType,
	MetadataInstance,
	MetadataAuthor,
}

// ContentBlockTypeText is the only body block type whose HTML is embedded.
const ContentBlockTypeText = "text"

// ContentBlock is one rich-content widget of a document body.
type ContentBlock struct {
	Type string
	HTML string
}

// Document is a read-only source article.
//
// Fields holds the metadata fields that are actually present on the stored
// record, keyed by their VectorMetadataKeys name. Absent fields are absent from
// the map, never nil-valued.
type Document struct {
	ID          string
	Headline    string
	Standfirst  string
	Body        []ContentBlock
	DisplayDate time.Time
	State       string
	Fields      map[string]any
}

// VectorMetadata builds the metadata attached to the document's vector record.
// Only fields present on the document are included; time values are rendered as RFC3339.
func (d *Document) VectorMetadata() map[string]any {
	metadata := make(map[string]any)
	if d == nil {
		return metadata
	}
	for _, key := range VectorMetadataKeys {
		value, ok := d.Fields[key]
		if !ok || value == nil {
			continue
		}
		if ts, isTime := value.(time.Time); isTime {
			value = ts.UTC().Format(time.RFC3339)
		}
		metadata[key] = value
	}
	return metadata
}
