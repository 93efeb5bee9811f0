package main

import (
	"image"
	"image/color"
	"unicode/utf8"

	"gioui.org/io/key"
	"gioui.org/io/pointer"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/text"
	"gioui.org/widget"
)

const buttonHeight = lineHeight + 6

func opOffsetY(gtx layout.Context, y int) op.TransformStack {
	return op.Offset(image.Point{Y: y}).Push(gtx.Ops)
}

func toColor(c uint32) color.NRGBA {
	return color.NRGBA{
		A: uint8(c & 0xFF),
		B: uint8(c >> 8 & 0xFF),
		G: uint8(c >> 16 & 0xFF),
		R: uint8(c >> 24 & 0xFF),
	}
}

func fillRect(gtx layout.Context, r image.Rectangle, c uint32) {
	paint.FillShape(gtx.Ops, toColor(c), clip.Rect(r).Op())
}

// labelAt draws a single line of text at (x, y) and returns its width.
func labelAt(gtx layout.Context, x, y int, s string, c uint32) int {
	defer op.Offset(image.Point{X: x, Y: y}).Push(gtx.Ops).Pop()
	paint.ColorOp{Color: toColor(c)}.Add(gtx.Ops)
	gtx.Constraints.Min = image.Point{}
	dims := widget.Label{MaxLines: 1}.Layout(gtx, shaper, text.Font{}, fontSize, s)
	return dims.Size.X
}

func labelWidth(gtx layout.Context, s string) int {
	m := op.Record(gtx.Ops)
	gtx.Constraints.Min = image.Point{}
	dims := widget.Label{MaxLines: 1}.Layout(gtx, shaper, text.Font{}, fontSize, s)
	m.Stop()
	return dims.Size.X
}

// button is an immediate-mode clickable rectangle with a text label. It
// reports clicks from the previous frame when laid out.
type button struct{}

func (b *button) layout(gtx layout.Context, x, y int, s string, c uint32) (clicked bool, width int) {
	for _, e := range gtx.Events(b) {
		if pe, ok := e.(pointer.Event); ok && pe.Type == pointer.Press {
			clicked = true
		}
	}

	width = labelWidth(gtx, s) + 2*pad
	r := image.Rect(x, y, x+width, y+buttonHeight)
	fillRect(gtx, r, c)
	labelAt(gtx, x+pad, y+3, s, colorText)

	defer clip.Rect(r).Push(gtx.Ops).Pop()
	pointer.InputOp{Tag: b, Types: pointer.Press}.Add(gtx.Ops)
	return clicked, width
}

// checkbox is a togglable [x] box. Layout reports the (possibly toggled)
// value.
type checkbox struct {
	btn button
}

func (cb *checkbox) layout(gtx layout.Context, x, y int, s string, v bool) (bool, int) {
	box := "[ ] "
	if v {
		box = "[x] "
	}
	clicked, w := cb.btn.layout(gtx, x, y, box+s, colorTabInactive)
	if clicked {
		v = !v
	}
	return v, w
}

// scroller tracks a vertical scroll offset for a panel. Layout registers the
// panel area for scroll events and applies any pending delta.
type scroller struct {
	offset int
}

func (s *scroller) update(gtx layout.Context, contentHeight int) int {
	for _, e := range gtx.Events(s) {
		if pe, ok := e.(pointer.Event); ok && pe.Type == pointer.Scroll {
			s.offset += int(pe.Scroll.Y)
		}
	}
	max := contentHeight - gtx.Constraints.Max.Y
	if max < 0 {
		max = 0
	}
	if s.offset > max {
		s.offset = max
	}
	if s.offset < 0 {
		s.offset = 0
	}

	defer clip.Rect{Max: gtx.Constraints.Max}.Push(gtx.Ops).Pop()
	pointer.InputOp{
		Tag:          s,
		Types:        pointer.Scroll,
		ScrollBounds: image.Rect(0, -lineHeight*3, 0, lineHeight*3),
	}.Add(gtx.Ops)
	return s.offset
}

// textField is a crude single-line editor. Click to focus, type to append,
// backspace to delete.
type textField struct {
	Text    string
	focused bool
}

func (tf *textField) layout(gtx layout.Context, x, y, width int, placeholder string) (changed bool) {
	for _, e := range gtx.Events(tf) {
		switch ev := e.(type) {
		case pointer.Event:
			if ev.Type == pointer.Press {
				tf.focused = true
				key.FocusOp{Tag: tf}.Add(gtx.Ops)
			}
		case key.FocusEvent:
			tf.focused = ev.Focus
		case key.EditEvent:
			tf.Text += ev.Text
			changed = true
		case key.Event:
			if ev.State == key.Press && ev.Name == key.NameDeleteBackward && tf.Text != "" {
				_, size := utf8.DecodeLastRuneInString(tf.Text)
				tf.Text = tf.Text[:len(tf.Text)-size]
				changed = true
			}
		}
	}

	c := uint32(colorTabInactive)
	if tf.focused {
		c = colorSelected
	}
	r := image.Rect(x, y, x+width, y+buttonHeight)
	fillRect(gtx, r, c)
	if tf.Text == "" && !tf.focused {
		labelAt(gtx, x+pad, y+3, placeholder, colorDimText)
	} else {
		s := tf.Text
		if tf.focused {
			s += "_"
		}
		labelAt(gtx, x+pad, y+3, s, colorText)
	}

	defer clip.Rect(r).Push(gtx.Ops).Pop()
	pointer.InputOp{Tag: tf, Types: pointer.Press}.Add(gtx.Ops)
	key.InputOp{Tag: tf, Keys: key.NameDeleteBackward}.Add(gtx.Ops)
	return changed
}
