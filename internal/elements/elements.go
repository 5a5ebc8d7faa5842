// Package elements materializes typed board elements out of the
// generic "elements" root map of a crdtdoc.Doc, and applies typed
// mutations back onto it. It is the only package that knows the
// field-name contract of that map; everything else in the engine deals
// in Snapshot/Materialized/Patch values.
package elements

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/plantrungnampl/realtime-board-sub000/internal/crdtdoc"
)

const ElementsMap = "elements"

const (
	FieldID          = "id"
	FieldBoardID     = "board_id"
	FieldLayerID     = "layer_id"
	FieldParentID    = "parent_id"
	FieldCreatedBy   = "created_by"
	FieldCreatedAt   = "created_at"
	FieldUpdatedAt   = "updated_at"
	FieldElementType = "element_type"
	FieldPositionX   = "position_x"
	FieldPositionY   = "position_y"
	FieldWidth       = "width"
	FieldHeight      = "height"
	FieldRotation    = "rotation"
	FieldZIndex      = "z_index"
	FieldStyle       = "style"
	FieldProperties  = "properties"
	FieldMetadata    = "metadata"
	FieldDeletedAt   = "deleted_at"
	FieldVersion     = "version"
)

// textKeys are the properties subkeys treated as collaborative text.
// The engine does not implement a character-level text CRDT; these
// still get whole-value replace semantics like any
// other scalar, but are kept as a distinct code path so the distinction
// documented by the spec stays visible and future work can upgrade them
// to splice-based merging without touching call sites.
var textKeys = map[string]bool{"content": true, "title": true, "name": true}

type ElementType string

const (
	ElementShape      ElementType = "Shape"
	ElementText       ElementType = "Text"
	ElementStickyNote ElementType = "StickyNote"
	ElementImage      ElementType = "Image"
	ElementVideo      ElementType = "Video"
	ElementFrame      ElementType = "Frame"
	ElementConnector  ElementType = "Connector"
	ElementDrawing    ElementType = "Drawing"
	ElementEmbed      ElementType = "Embed"
	ElementDocument   ElementType = "Document"
	ElementComponent  ElementType = "Component"
)

// Snapshot is the full state of an element as stored durably (e.g. in
// the relational projection or a REST create request).
type Snapshot struct {
	ID          uuid.UUID
	BoardID     uuid.UUID
	LayerID     *uuid.UUID
	ParentID    *uuid.UUID
	CreatedBy   uuid.UUID
	ElementType ElementType
	PositionX   float64
	PositionY   float64
	Width       float64
	Height      float64
	Rotation    float64
	ZIndex      int
	Style       map[string]any
	Properties  map[string]any
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
	Version     int
}

// Materialized is what reading an element back out of the document
// yields. Fields the document doesn't have values for are left at
// their zero value / nil, mirroring the original's tolerance for
// partially-written elements.
type Materialized struct {
	ID          uuid.UUID
	BoardID     uuid.UUID
	LayerID     *uuid.UUID
	ParentID    *uuid.UUID
	CreatedBy   *uuid.UUID
	ElementType ElementType
	PositionX   float64
	PositionY   float64
	Width       float64
	Height      float64
	Rotation    float64
	ZIndex      int
	Style       map[string]any
	Properties  map[string]any
	Metadata    map[string]any
	CreatedAt   *time.Time
	UpdatedAt   *time.Time
	DeletedAt   *time.Time
	Version     *int
}

// Applied bundles the materialized result of a mutation with the
// binary update it produced, ready for the caller to broadcast and
// persist.
type Applied struct {
	Element Materialized
	Update  []byte
}

// Patch carries the optional fields a REST/WS update request supplies.
// Nil means "leave unchanged".
type Patch struct {
	PositionX  *float64
	PositionY  *float64
	Width      *float64
	Height     *float64
	Rotation   *float64
	Style      map[string]any
	Properties map[string]any
	Metadata   map[string]any
}

func ApplySnapshot(doc *crdtdoc.Doc, snap Snapshot) Applied {
	var result Materialized
	update := doc.Transact(func(tx *crdtdoc.Txn) {
		el := tx.Map(ElementsMap).SubMap(snap.ID.String())
		setUUID(el, FieldID, snap.ID)
		setUUID(el, FieldBoardID, snap.BoardID)
		setUUIDOpt(el, FieldLayerID, snap.LayerID)
		setUUIDOpt(el, FieldParentID, snap.ParentID)
		setUUID(el, FieldCreatedBy, snap.CreatedBy)
		setDatetime(el, FieldCreatedAt, snap.CreatedAt)
		setDatetime(el, FieldUpdatedAt, snap.UpdatedAt)
		el.Set(FieldElementType, crdtdoc.String(string(snap.ElementType)))
		el.Set(FieldPositionX, crdtdoc.Float(snap.PositionX))
		el.Set(FieldPositionY, crdtdoc.Float(snap.PositionY))
		el.Set(FieldWidth, crdtdoc.Float(snap.Width))
		el.Set(FieldHeight, crdtdoc.Float(snap.Height))
		el.Set(FieldRotation, crdtdoc.Float(snap.Rotation))
		el.Set(FieldZIndex, crdtdoc.Float(float64(snap.ZIndex)))
		applyObjectPatch(el, FieldStyle, snap.Style)
		applyPropertiesPatch(el, FieldProperties, snap.Properties)
		applyObjectPatch(el, FieldMetadata, snap.Metadata)
		setDatetimeOpt(el, FieldDeletedAt, snap.DeletedAt)
		el.Set(FieldVersion, crdtdoc.Float(float64(snap.Version)))
		result = materialize(el, snap.ID.String())
	})
	return Applied{Element: result, Update: update}
}

// ApplyMissingFields backfills only the fields snap carries that the
// document doesn't already have a value for. Returns nil if nothing
// was missing.
func ApplyMissingFields(doc *crdtdoc.Doc, snap Snapshot) *Applied {
	var result *Applied
	update := doc.Transact(func(tx *crdtdoc.Txn) {
		el := tx.Map(ElementsMap).SubMap(snap.ID.String())
		changed := false
		changed = setIfMissingUUID(el, FieldID, snap.ID) || changed
		changed = setIfMissingUUID(el, FieldBoardID, snap.BoardID) || changed
		changed = setIfMissingUUIDOpt(el, FieldLayerID, snap.LayerID) || changed
		changed = setIfMissingUUIDOpt(el, FieldParentID, snap.ParentID) || changed
		changed = setIfMissingUUID(el, FieldCreatedBy, snap.CreatedBy) || changed
		changed = setIfMissingDatetime(el, FieldCreatedAt, snap.CreatedAt) || changed
		changed = setIfMissingDatetime(el, FieldUpdatedAt, snap.UpdatedAt) || changed
		changed = setIfMissingString(el, FieldElementType, string(snap.ElementType)) || changed
		changed = setIfMissingFloat(el, FieldPositionX, snap.PositionX) || changed
		changed = setIfMissingFloat(el, FieldPositionY, snap.PositionY) || changed
		changed = setIfMissingFloat(el, FieldWidth, snap.Width) || changed
		changed = setIfMissingFloat(el, FieldHeight, snap.Height) || changed
		changed = setIfMissingFloat(el, FieldRotation, snap.Rotation) || changed
		changed = setIfMissingFloat(el, FieldZIndex, float64(snap.ZIndex)) || changed
		changed = setIfMissingObject(el, FieldStyle, snap.Style) || changed
		changed = setIfMissingProperties(el, FieldProperties, snap.Properties) || changed
		changed = setIfMissingObject(el, FieldMetadata, snap.Metadata) || changed
		changed = setIfMissingDatetimeOpt(el, FieldDeletedAt, snap.DeletedAt) || changed
		changed = setIfMissingFloat(el, FieldVersion, float64(snap.Version)) || changed
		if !changed {
			return
		}
		m := materialize(el, snap.ID.String())
		result = &Applied{Element: m}
	})
	if result != nil {
		result.Update = update
	}
	return result
}

func ApplyUpdate(doc *crdtdoc.Doc, elementID uuid.UUID, patch Patch, updatedAt time.Time) *Applied {
	var result *Applied
	update := doc.Transact(func(tx *crdtdoc.Txn) {
		elements := tx.Map(ElementsMap)
		el, ok := getExistingElementMap(elements, elementID.String())
		if !ok || el.Has(FieldDeletedAt) {
			return
		}
		if patch.PositionX != nil {
			el.Set(FieldPositionX, crdtdoc.Float(*patch.PositionX))
		}
		if patch.PositionY != nil {
			el.Set(FieldPositionY, crdtdoc.Float(*patch.PositionY))
		}
		if patch.Width != nil {
			el.Set(FieldWidth, crdtdoc.Float(*patch.Width))
		}
		if patch.Height != nil {
			el.Set(FieldHeight, crdtdoc.Float(*patch.Height))
		}
		if patch.Rotation != nil {
			el.Set(FieldRotation, crdtdoc.Float(*patch.Rotation))
		}
		if patch.Style != nil {
			applyObjectPatch(el, FieldStyle, patch.Style)
		}
		if patch.Properties != nil {
			applyPropertiesPatch(el, FieldProperties, patch.Properties)
		}
		if patch.Metadata != nil {
			applyObjectPatch(el, FieldMetadata, patch.Metadata)
		}
		bumpVersion(el)
		setDatetime(el, FieldUpdatedAt, updatedAt)
		m := materialize(el, elementID.String())
		result = &Applied{Element: m}
	})
	if result != nil {
		result.Update = update
	}
	return result
}

// ApplyDeleted sets or clears the element's tombstone. It always bumps
// version and updated_at even if the element is already in the target
// tombstone state, matching the original's unconditional-bump behavior.
func ApplyDeleted(doc *crdtdoc.Doc, elementID uuid.UUID, deletedAt *time.Time, updatedAt time.Time) *Applied {
	var result *Applied
	update := doc.Transact(func(tx *crdtdoc.Txn) {
		elements := tx.Map(ElementsMap)
		el, ok := getExistingElementMap(elements, elementID.String())
		if !ok {
			return
		}
		setDatetimeOpt(el, FieldDeletedAt, deletedAt)
		bumpVersion(el)
		setDatetime(el, FieldUpdatedAt, updatedAt)
		m := materialize(el, elementID.String())
		result = &Applied{Element: m}
	})
	if result != nil {
		result.Update = update
	}
	return result
}

func MaterializeElements(doc *crdtdoc.Doc) []Materialized {
	var out []Materialized
	doc.Transact(func(tx *crdtdoc.Txn) {
		elements := tx.Map(ElementsMap)
		for _, key := range elements.Keys() {
			el := elements.SubMap(key)
			out = append(out, materialize(el, key))
		}
	})
	return out
}

func MaterializeElement(doc *crdtdoc.Doc, elementID uuid.UUID) (Materialized, bool) {
	var m Materialized
	found := false
	doc.Transact(func(tx *crdtdoc.Txn) {
		elements := tx.Map(ElementsMap)
		if !elements.Has(elementID.String()) {
			return
		}
		el := elements.SubMap(elementID.String())
		m = materialize(el, elementID.String())
		found = true
	})
	return m, found
}

// MaxZIndex returns the highest z-index among live (non-deleted)
// elements on layerID.
func MaxZIndex(doc *crdtdoc.Doc, layerID *uuid.UUID) int {
	max := 0
	doc.Transact(func(tx *crdtdoc.Txn) {
		elements := tx.Map(ElementsMap)
		for _, key := range elements.Keys() {
			el := elements.SubMap(key)
			m := materialize(el, key)
			if m.DeletedAt != nil {
				continue
			}
			if !sameLayer(m.LayerID, layerID) {
				continue
			}
			if m.ZIndex > max {
				max = m.ZIndex
			}
		}
	})
	return max
}

// NextZIndex is the "create at top of stack" convenience the REST
// create endpoint needs: one past the current maximum.
func NextZIndex(doc *crdtdoc.Doc, layerID *uuid.UUID) int {
	return MaxZIndex(doc, layerID) + 1
}

func sameLayer(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func getExistingElementMap(elements *crdtdoc.MapHandle, key string) (*crdtdoc.MapHandle, bool) {
	if !elements.Has(key) {
		return nil, false
	}
	return elements.SubMap(key), true
}

func applyObjectPatch(h *crdtdoc.MapHandle, key string, value map[string]any) {
	if key == "" {
		for field, v := range value {
			applyValue(h, field, v)
		}
		return
	}
	nested := h.SubMap(key)
	for field, v := range value {
		applyValue(nested, field, v)
	}
}

func applyPropertiesPatch(h *crdtdoc.MapHandle, key string, value map[string]any) {
	if key == "" {
		for field, v := range value {
			applyPropertyValue(h, field, v)
		}
		return
	}
	nested := h.SubMap(key)
	for field, v := range value {
		applyPropertyValue(nested, field, v)
	}
}

func applyPropertyValue(h *crdtdoc.MapHandle, key string, v any) {
	if textKeys[key] {
		applyTextValue(h, key, v)
		return
	}
	applyValue(h, key, v)
}

func applyTextValue(h *crdtdoc.MapHandle, key string, v any) {
	if s, ok := v.(string); ok {
		h.Set(key, crdtdoc.String(s))
		return
	}
	applyValue(h, key, v)
}

func applyValue(h *crdtdoc.MapHandle, key string, v any) {
	switch val := v.(type) {
	case nil:
		h.Delete(key)
	case bool:
		h.Set(key, crdtdoc.Bool(val))
	case float64:
		h.Set(key, crdtdoc.Float(val))
	case string:
		h.Set(key, crdtdoc.String(val))
	case map[string]any:
		applyObjectPatch(h, key, val)
	case []any:
		if data, err := json.Marshal(val); err == nil {
			h.Set(key, crdtdoc.String(string(data)))
		}
	}
}

func bumpVersion(h *crdtdoc.MapHandle) {
	next := 1
	if cur, ok := h.Get(FieldVersion); ok && cur.Kind == crdtdoc.KindFloat64 {
		next = int(cur.Float) + 1
	}
	h.Set(FieldVersion, crdtdoc.Float(float64(next)))
}

func setUUID(h *crdtdoc.MapHandle, key string, id uuid.UUID) {
	h.Set(key, crdtdoc.String(id.String()))
}

func setUUIDOpt(h *crdtdoc.MapHandle, key string, id *uuid.UUID) {
	if id != nil {
		setUUID(h, key, *id)
		return
	}
	h.Delete(key)
}

func setDatetime(h *crdtdoc.MapHandle, key string, t time.Time) {
	h.Set(key, crdtdoc.String(t.UTC().Format(time.RFC3339Nano)))
}

func setDatetimeOpt(h *crdtdoc.MapHandle, key string, t *time.Time) {
	if t != nil {
		setDatetime(h, key, *t)
		return
	}
	h.Delete(key)
}

func setIfMissingUUID(h *crdtdoc.MapHandle, key string, id uuid.UUID) bool {
	if h.Has(key) {
		return false
	}
	setUUID(h, key, id)
	return true
}

func setIfMissingUUIDOpt(h *crdtdoc.MapHandle, key string, id *uuid.UUID) bool {
	if id == nil || h.Has(key) {
		return false
	}
	setUUIDOpt(h, key, id)
	return true
}

func setIfMissingDatetime(h *crdtdoc.MapHandle, key string, t time.Time) bool {
	if h.Has(key) {
		return false
	}
	setDatetime(h, key, t)
	return true
}

func setIfMissingDatetimeOpt(h *crdtdoc.MapHandle, key string, t *time.Time) bool {
	if t == nil || h.Has(key) {
		return false
	}
	setDatetimeOpt(h, key, t)
	return true
}

func setIfMissingString(h *crdtdoc.MapHandle, key string, v string) bool {
	if h.Has(key) {
		return false
	}
	h.Set(key, crdtdoc.String(v))
	return true
}

func setIfMissingFloat(h *crdtdoc.MapHandle, key string, v float64) bool {
	if h.Has(key) {
		return false
	}
	h.Set(key, crdtdoc.Float(v))
	return true
}

func setIfMissingObject(h *crdtdoc.MapHandle, key string, v map[string]any) bool {
	if h.Has(key) {
		return false
	}
	applyObjectPatch(h, key, v)
	return true
}

func setIfMissingProperties(h *crdtdoc.MapHandle, key string, v map[string]any) bool {
	if h.Has(key) {
		return false
	}
	applyPropertiesPatch(h, key, v)
	return true
}

func materialize(el *crdtdoc.MapHandle, elementID string) Materialized {
	m := Materialized{}
	if id, ok := getUUID(el, FieldID); ok {
		m.ID = id
	} else if parsed, err := uuid.Parse(elementID); err == nil {
		m.ID = parsed
	}
	if boardID, ok := getUUID(el, FieldBoardID); ok {
		m.BoardID = boardID
	}
	m.LayerID = getUUIDOpt(el, FieldLayerID)
	m.ParentID = getUUIDOpt(el, FieldParentID)
	m.CreatedBy = getUUIDOpt(el, FieldCreatedBy)
	if v, ok := el.Get(FieldElementType); ok && v.Kind == crdtdoc.KindString {
		m.ElementType = ElementType(v.Str)
	}
	m.PositionX = getFloat(el, FieldPositionX)
	m.PositionY = getFloat(el, FieldPositionY)
	m.Width = getFloat(el, FieldWidth)
	m.Height = getFloat(el, FieldHeight)
	m.Rotation = getFloat(el, FieldRotation)
	m.ZIndex = int(getFloat(el, FieldZIndex))
	m.Style = toJSON(el, FieldStyle)
	m.Properties = toJSON(el, FieldProperties)
	m.Metadata = toJSON(el, FieldMetadata)
	m.CreatedAt = getDatetimeOpt(el, FieldCreatedAt)
	m.UpdatedAt = getDatetimeOpt(el, FieldUpdatedAt)
	m.DeletedAt = getDatetimeOpt(el, FieldDeletedAt)
	if v, ok := el.Get(FieldVersion); ok && v.Kind == crdtdoc.KindFloat64 {
		ver := int(v.Float)
		m.Version = &ver
	}
	return m
}

func getUUID(h *crdtdoc.MapHandle, key string) (uuid.UUID, bool) {
	v, ok := h.Get(key)
	if !ok || v.Kind != crdtdoc.KindString {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(v.Str)
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}

func getUUIDOpt(h *crdtdoc.MapHandle, key string) *uuid.UUID {
	if id, ok := getUUID(h, key); ok {
		return &id
	}
	return nil
}

func getFloat(h *crdtdoc.MapHandle, key string) float64 {
	v, ok := h.Get(key)
	if !ok || v.Kind != crdtdoc.KindFloat64 {
		return 0
	}
	return v.Float
}

func getDatetimeOpt(h *crdtdoc.MapHandle, key string) *time.Time {
	v, ok := h.Get(key)
	if !ok || v.Kind != crdtdoc.KindString {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.Str)
	if err != nil {
		return nil
	}
	return &t
}

// toJSON reads the nested submap at key into a plain map[string]any,
// opportunistically decoding values that were stored as JSON-array
// blobs (see applyValue) back into native slices.
func toJSON(parent *crdtdoc.MapHandle, key string) map[string]any {
	v, ok := parent.Get(key)
	if !ok || v.Kind != crdtdoc.KindMap {
		return map[string]any{}
	}
	return mapToJSON(v.Map)
}

func mapToJSON(m *crdtdoc.Map) map[string]any {
	out := make(map[string]any, len(m.Keys()))
	for _, key := range m.Keys() {
		v, ok := m.Get(key)
		if !ok {
			continue
		}
		switch v.Kind {
		case crdtdoc.KindBool:
			out[key] = v.Bool
		case crdtdoc.KindFloat64:
			out[key] = v.Float
		case crdtdoc.KindString:
			if strings.HasPrefix(v.Str, "[") {
				var arr []any
				if err := json.Unmarshal([]byte(v.Str), &arr); err == nil {
					out[key] = arr
					continue
				}
			}
			out[key] = v.Str
		case crdtdoc.KindMap:
			out[key] = mapToJSON(v.Map)
		}
	}
	return out
}
