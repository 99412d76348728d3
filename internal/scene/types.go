// internal/scene/types.go
package scene

// Kind identifies an item variant on disk
type Kind string

const (
	KindImage Kind = "pixmap"
	KindText  Kind = "text"
	KindError Kind = "error"
)

// Placement holds the geometry shared by every item
type Placement struct {
	X        float64
	Y        float64
	Z        float64
	Scale    float64
	Rotation float64
	Flip     bool
}

// DefaultPlacement returns an unscaled, unrotated placement at the origin
func DefaultPlacement() Placement {
	return Placement{Scale: 1}
}

// Item is one element of a scene. Implemented by *ImageItem, *TextItem and
// *ErrorItem.
type Item interface {
	Kind() Kind
	Place() Placement
}

// ImageItem is an embedded raster image. Data is never modified once stored.
type ImageItem struct {
	Placement
	Data     []byte
	Format   string // "png", "jpg", ...
	Filename string
}

func (i *ImageItem) Kind() Kind       { return KindImage }
func (i *ImageItem) Place() Placement { return i.Placement }

// TextItem is a free-floating text block
type TextItem struct {
	Placement
	Text string
	Font string
	Size float64
}

func (i *TextItem) Kind() Kind       { return KindText }
func (i *TextItem) Place() Placement { return i.Placement }

// ErrorItem stands in for a stored item that could not be loaded. Saving it
// back to the container it came from keeps the stored row untouched apart
// from its placement.
type ErrorItem struct {
	Placement
	Source  string // container path the item was read from
	SavedID int64  // row id inside Source
	Stored  Kind   // kind of the stored row
	Err     error
}

func (i *ErrorItem) Kind() Kind       { return KindError }
func (i *ErrorItem) Place() Placement { return i.Placement }

// Rect is an axis-aligned rectangle in scene coordinates
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Arrangement holds the parameters last used to auto-arrange items
type Arrangement struct {
	Mode    string  `json:"mode,omitempty"` // "", "grid", "horizontal", "vertical", "optimal"
	Gap     float64 `json:"gap"`
	Columns int     `json:"columns,omitempty"`
}

// Meta is scene-level metadata
type Meta struct {
	Bounds      Rect        `json:"bounds"`
	Arrangement Arrangement `json:"arrangement"`
}

// Snapshot is the caller-owned state of a scene at one point in time.
// Items are kept in insertion order.
type Snapshot struct {
	Items []Item
	Meta  Meta
}
