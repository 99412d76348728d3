package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextZ(t *testing.T) {
	t.Run("empty scene starts at zero", func(t *testing.T) {
		assert.Equal(t, 0.0, NextZ(nil))
	})

	t.Run("stacks above the maximum", func(t *testing.T) {
		snap := &Snapshot{Items: []Item{
			&TextItem{Placement: Placement{Z: 0.5}},
			&TextItem{Placement: Placement{Z: -2}},
			&ImageItem{Placement: Placement{Z: 1.25}},
		}}

		assert.InDelta(t, 1.25+ZStep, snap.NextZ(), 1e-12)
	})

	t.Run("negative only", func(t *testing.T) {
		items := []Item{&TextItem{Placement: Placement{Z: -3}}}
		assert.InDelta(t, -3+ZStep, NextZ(items), 1e-12)
	})
}

func TestPaintOrder(t *testing.T) {
	a := &TextItem{Text: "a", Placement: Placement{Z: 2}}
	b := &TextItem{Text: "b", Placement: Placement{Z: 1}}
	c := &TextItem{Text: "c", Placement: Placement{Z: 2}}
	d := &TextItem{Text: "d", Placement: Placement{Z: 0.5}}
	snap := &Snapshot{Items: []Item{a, b, c, d}}

	got := snap.PaintOrder()

	assert.Equal(t, []Item{d, b, a, c}, got, "ties keep insertion order")
	assert.Equal(t, []Item{a, b, c, d}, snap.Items, "snapshot is not reordered")
}

func TestBounds(t *testing.T) {
	snap := &Snapshot{Items: []Item{
		&TextItem{Placement: Placement{X: -10, Y: 5}},
		&ImageItem{Placement: Placement{X: 30, Y: -5}},
	}}

	assert.Equal(t, Rect{X: -10, Y: -5, Width: 40, Height: 10}, snap.Bounds())
	assert.Equal(t, Rect{}, (&Snapshot{}).Bounds())
}

func TestCodec_Items(t *testing.T) {
	place := Placement{X: 1, Y: 2, Z: 3, Scale: 0.5, Rotation: 90, Flip: true}

	t.Run("image", func(t *testing.T) {
		raw, err := EncodeData(&ImageItem{Filename: "cat.png", Format: "png"})
		require.NoError(t, err)

		item, err := DecodeItem(KindImage, place, raw, []byte{1, 2, 3})
		require.NoError(t, err)

		img, ok := item.(*ImageItem)
		require.True(t, ok)
		assert.Equal(t, "cat.png", img.Filename)
		assert.Equal(t, "png", img.Format)
		assert.Equal(t, []byte{1, 2, 3}, img.Data)
		assert.Equal(t, place, img.Place())
	})

	t.Run("text", func(t *testing.T) {
		raw, err := EncodeData(&TextItem{Text: "hello", Font: "Sans", Size: 12})
		require.NoError(t, err)

		item, err := DecodeItem(KindText, place, raw, nil)
		require.NoError(t, err)
		assert.Equal(t, &TextItem{Placement: place, Text: "hello", Font: "Sans", Size: 12}, item)
	})

	t.Run("text without text field is rejected", func(t *testing.T) {
		_, err := DecodeItem(KindText, place, []byte(`{"font":"Sans"}`), nil)
		assert.ErrorIs(t, err, ErrInvalidData)
	})

	t.Run("wrong types are rejected", func(t *testing.T) {
		_, err := DecodeItem(KindText, place, []byte(`{"text": 42}`), nil)
		assert.ErrorIs(t, err, ErrInvalidData)
	})

	t.Run("malformed json is rejected", func(t *testing.T) {
		_, err := DecodeItem(KindImage, place, []byte(`{"filename":`), nil)
		assert.ErrorIs(t, err, ErrInvalidData)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := DecodeItem(Kind("video"), place, nil, nil)
		assert.ErrorIs(t, err, ErrUnknownKind)
	})

	t.Run("empty image payload is allowed", func(t *testing.T) {
		item, err := DecodeItem(KindImage, place, nil, []byte{9})
		require.NoError(t, err)
		assert.Equal(t, []byte{9}, item.(*ImageItem).Data)
	})

	t.Run("nil items are rejected", func(t *testing.T) {
		var img *ImageItem
		var txt *TextItem
		for _, item := range []Item{nil, img, txt, &ErrorItem{SavedID: 3}} {
			_, err := EncodeData(item)
			assert.ErrorIs(t, err, ErrInvalidData, "%T", item)
		}
	})
}

func TestCodec_Meta(t *testing.T) {
	meta := Meta{
		Bounds:      Rect{X: -1, Y: -2, Width: 300, Height: 200},
		Arrangement: Arrangement{Mode: "grid", Gap: 8, Columns: 4},
	}

	raw, err := EncodeMeta(meta)
	require.NoError(t, err)

	got, err := DecodeMeta(raw)
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	_, err = DecodeMeta([]byte(`{"arrangement": {"gap": -1}}`))
	assert.ErrorIs(t, err, ErrInvalidData)

	_, err = DecodeMeta([]byte(`{"arrangement": {"mode": "spiral"}}`))
	assert.ErrorIs(t, err, ErrInvalidData)
}
