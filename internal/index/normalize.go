// Package index turns raw entity records into index documents and writes
// them to the document store.
package index

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"sitesearch/internal/entity"
	"sitesearch/internal/search"
)

// DateLayout is the form every indexed timestamp is written in.
const DateLayout = "2006-01-02T15:04:05.000000Z"

// reservedFields are document fields extras may never shadow.
var reservedFields = map[string]bool{
	"id": true, "index_id": true, "site_id": true, "entity_type": true,
	"name": true, "title": true, "title_string": true, "notes": true, "text": true,
	"validated_data_dict": true, "data_dict": true, "permission_labels": true,
	"metadata_created": true, "metadata_modified": true, "state": true,
	"type": true, "capacity": true, "tags": true, "groups": true,
	"organization": true, "extras": true, "urls": true,
}

// nested relation lists and credentials never indexed raw
var dropped = map[entity.Type][]string{
	entity.Organization: {"packages", "users", "groups"},
	entity.Group:        {"packages", "users", "groups"},
	entity.User:         {"apikey", "password", "reset_key"},
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Normalizer converts raw entity records into flat documents for one site.
// It is a pure transform; nothing is written here.
type Normalizer struct {
	siteID string
}

// NewNormalizer returns a Normalizer for siteID.
func NewNormalizer(siteID string) *Normalizer {
	return &Normalizer{siteID: siteID}
}

// SiteID returns the site every document is scoped to.
func (n *Normalizer) SiteID() string {
	return n.siteID
}

// IndexID derives the document primary key from an entity id.
func (n *Normalizer) IndexID(id string) string {
	sum := md5.Sum([]byte(id + n.siteID))
	return hex.EncodeToString(sum[:])
}

// Normalize builds the index document for rec. The record is not modified.
func (n *Normalizer) Normalize(t entity.Type, rec entity.Record) (search.Document, error) {
	switch t {
	case entity.Organization, entity.Group, entity.User, entity.Page:
	default:
		return nil, search.NewValidationError("entity_type", fmt.Sprintf("cannot index entity type %q", t))
	}
	id := rec.String("id")
	if id == "" {
		return nil, search.NewValidationError("id", "All indexed entities need an `id` field")
	}

	data := rec.Clone()
	for _, key := range dropped[t] {
		delete(data, key)
	}
	data["id"] = id
	data["site_id"] = n.siteID
	data["index_id"] = n.IndexID(id)
	data["entity_type"] = string(t)

	var doc search.Document
	var err error
	switch t {
	case entity.Organization, entity.Group:
		doc, err = n.groupDocument(data)
	case entity.User:
		doc, err = n.userDocument(data)
	case entity.Page:
		doc, err = n.pageDocument(data)
	}
	if err != nil {
		return nil, err
	}
	doc["text"] = catchAll(doc)
	return doc, nil
}

func (n *Normalizer) groupDocument(data entity.Record) (search.Document, error) {
	blob, err := encodeBlob(data)
	if err != nil {
		return nil, err
	}
	extras, hasExtras := data["extras"]
	delete(data, "extras")

	doc := search.Document(data.Clone())
	doc["validated_data_dict"] = blob
	doc["notes"] = data.String("description")
	doc["title_string"] = data.String("title")
	if hasExtras {
		if err := mergeExtras(doc, extras); err != nil {
			return nil, err
		}
	}
	if err := setDate(doc, "metadata_created", data, "created"); err != nil {
		return nil, err
	}
	return doc, nil
}

func (n *Normalizer) userDocument(data entity.Record) (search.Document, error) {
	data["notes"] = strings.Join([]string{
		data.String("fullname"),
		data.String("about"),
		data.String("email"),
	}, " ")
	blob, err := encodeBlob(data)
	if err != nil {
		return nil, err
	}

	doc := search.Document(data.Clone())
	doc["validated_data_dict"] = blob
	if err := setDate(doc, "metadata_created", data, "created"); err != nil {
		return nil, err
	}
	return doc, nil
}

func (n *Normalizer) pageDocument(data entity.Record) (search.Document, error) {
	blob, err := encodeBlob(data)
	if err != nil {
		return nil, err
	}

	doc := search.Document(data.Clone())
	doc["validated_data_dict"] = blob
	for _, f := range [][2]string{
		{"metadata_created", "created"},
		{"metadata_modified", "modified"},
		{"publish_date", "publish_date"},
	} {
		if err := setDate(doc, f[0], data, f[1]); err != nil {
			return nil, err
		}
	}

	doc["notes"] = SanitizeText(data.String("content"))
	delete(doc, "content")
	doc["title_string"] = data.String("title")
	doc["permission_labels"] = PageLabels(data)
	return doc, nil
}

// PageLabels computes page visibility: private pages owned by an
// organization are visible to sysadmins and that organization's admins,
// other private pages to sysadmins only, everything else to everyone.
func PageLabels(rec entity.Record) []string {
	if !rec.Bool("private") {
		return []string{"public"}
	}
	labels := []string{"sysadmin"}
	if gid := rec.String("group_id"); gid != "" {
		labels = append(labels, "group_id-"+gid)
	}
	return labels
}

func encodeBlob(data entity.Record) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return "", search.NewValidationError("validated_data_dict", err.Error())
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// mergeExtras projects each extra into extras_<key>, and into <key> when the
// key is neither reserved nor already present on the document. Both passes
// look at the document as it was before any extra was merged.
func mergeExtras(doc search.Document, raw any) error {
	list, ok := raw.([]any)
	if !ok {
		if typed, isMaps := raw.([]map[string]any); isMaps {
			for _, m := range typed {
				list = append(list, m)
			}
		} else if raw != nil {
			return search.NewValidationError("extras", "extras must be a list of key/value objects")
		}
	}

	taken := make(map[string]bool, len(doc))
	for k := range doc {
		taken[k] = true
	}

	type pair struct {
		key   string
		value any
	}
	var pairs []pair
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return search.NewValidationError("extras", "extras must be a list of key/value objects")
		}
		key := sanitizeKey(entity.Record(m).String("key"))
		if key == "" {
			continue
		}
		pairs = append(pairs, pair{key: key, value: extraValue(m["value"])})
	}

	for _, p := range pairs {
		doc["extras_"+p.key] = p.value
		if !reservedFields[p.key] && !taken[p.key] {
			doc[p.key] = p.value
		}
	}
	return nil
}

func extraValue(v any) any {
	switch t := v.(type) {
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, " ")
	case []string:
		return strings.Join(t, " ")
	default:
		return v
	}
}

func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// setDate writes the normalized form of data[src] to doc[dst]. A missing or
// empty source leaves dst unset.
func setDate(doc search.Document, dst string, data entity.Record, src string) error {
	raw := data.String(src)
	if raw == "" {
		return nil
	}
	formatted, err := FormatDate(raw)
	if err != nil {
		return search.NewValidationError(src, err.Error())
	}
	doc[dst] = formatted
	return nil
}

// FormatDate normalizes a platform timestamp to UTC in DateLayout.
// Timestamps without a zone are taken to be UTC.
func FormatDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Format(DateLayout), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q", value)
}

// catchAll builds the default free-text field.
func catchAll(doc search.Document) string {
	var parts []string
	add := func(v any) {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	for _, key := range []string{"name", "title", "display_name", "notes"} {
		add(doc[key])
	}
	var extras []string
	for key := range doc {
		if strings.HasPrefix(key, "extras_") {
			extras = append(extras, key)
		}
	}
	sort.Strings(extras)
	for _, key := range extras {
		add(doc[key])
	}
	return strings.Join(parts, " ")
}
