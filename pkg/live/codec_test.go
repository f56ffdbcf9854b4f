package live

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"reflect"
	"testing"

	"github.com/recera/lcars/pkg/element"
	"github.com/recera/lcars/pkg/panel"
)

func TestSnapshotCodec_KeepsMissingParts(t *testing.T) {
	st := panel.DefaultState(320, 200)
	st.Background = "#102030"
	st.Modal = true
	st.Alpha = 0.5
	full := element.New(1, element.State{
		Bounds:  image.Rect(-4, 0, 40, 20),
		Color:   color.RGBA{R: 255, G: 153, A: 255},
		Style:   7,
		Visible: true,
		Touch:   -1,
	}, element.Geometry{Shapes: []element.Shape{
		{Kind: element.ShapeRect, Bounds: image.Rect(0, 0, 40, 20)},
		{Kind: element.ShapeText, Bounds: image.Rect(2, 2, 38, 18), Foreground: true, Text: "WARP"},
		{Kind: element.ShapeRaster, Bounds: image.Rect(0, 0, 40, 20), Ref: "bars:3"},
	}})
	stateOnly := &element.Element{ID: 2, State: &element.State{Visible: true}, Changes: element.ChangeState}
	bare := &element.Element{ID: 3}

	in := &panel.Snapshot{
		PanelID:     9,
		Seq:         1234,
		State:       st,
		Elements:    []*element.Element{full, stateOnly, bare},
		Incremental: true,
	}
	out, err := DecodeSnapshot(EncodeSnapshot(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.PanelID != 9 || out.Seq != 1234 || !out.Incremental || out.State != st {
		t.Errorf("header mismatch: %v %+v", out, out.State)
	}
	if len(out.Elements) != 3 {
		t.Fatalf("got %d elements", len(out.Elements))
	}
	if !reflect.DeepEqual(out.Elements[0], full) {
		t.Errorf("full element changed: %+v", out.Elements[0])
	}
	if got := out.Elements[1]; got.Geometry != nil || got.State == nil || got.Changes != element.ChangeState {
		t.Errorf("state-only element decoded as %v", got)
	}
	if got := out.Elements[2]; got.Missing() != element.ChangeAll {
		t.Errorf("bare element should miss everything, missing %v", got.Missing())
	}
}

func TestDecodeSnapshot_Truncated(t *testing.T) {
	snap := &panel.Snapshot{PanelID: 1, Seq: 1, State: panel.DefaultState(10, 10),
		Elements: []*element.Element{element.New(1, element.State{}, element.Geometry{})}}
	data := EncodeSnapshot(snap)
	for _, n := range []int{0, 3, len(data) - 1} {
		if _, err := DecodeSnapshot(data[:n]); !errors.Is(err, ErrMalformed) {
			t.Errorf("truncated at %d: expected ErrMalformed, got %v", n, err)
		}
	}
}

func TestMessageCodec(t *testing.T) {
	tests := []*Message{
		{Type: FrameCall, ID: 1, Method: "update", Body: []byte{1, 2, 3}},
		{Type: FrameReply, ID: 300, Err: "boom"},
		{Type: FrameHello, Method: "session"},
	}
	for _, m := range tests {
		got, err := DecodeMessage(EncodeMessage(m))
		if err != nil {
			t.Errorf("%s: %v", m.Type, err)
			continue
		}
		if !reflect.DeepEqual(got, m) {
			t.Errorf("%s: got %+v, want %+v", m.Type, got, m)
		}
	}

	if _, err := DecodeMessage([]byte{0x7f}); !errors.Is(err, ErrMalformed) {
		t.Errorf("unknown frame type: %v", err)
	}
	if _, err := DecodeMessage(nil); !errors.Is(err, ErrMalformed) {
		t.Errorf("empty frame: %v", err)
	}
}

// header writes a snapshot header for an empty 10x10 panel
func header(enc *Encoder) {
	enc.WriteUvarint(1)
	enc.WriteUvarint(1)
	enc.WriteVarint(10)
	enc.WriteVarint(10)
	enc.WriteString("")
	enc.WriteVarint(0)
	enc.WriteVarint(0)
	enc.WriteByte(0)
	enc.WriteUvarint(0)
}

func TestDecodeSnapshot_CountsBoundedByInput(t *testing.T) {
	var elements bytes.Buffer
	enc := NewEncoder(&elements)
	header(enc)
	enc.WriteUvarint(1 << 23)

	var shapes bytes.Buffer
	enc = NewEncoder(&shapes)
	header(enc)
	enc.WriteUvarint(1)
	enc.WriteUvarint(7)
	enc.WriteByte(byte(element.ChangeGeometry))
	enc.WriteByte(0)
	enc.WriteUvarint(1 << 20)

	var text bytes.Buffer
	enc = NewEncoder(&text)
	enc.WriteUvarint(1)
	enc.WriteUvarint(1)
	enc.WriteVarint(10)
	enc.WriteVarint(10)
	enc.WriteUvarint(1 << 23)

	for name, data := range map[string][]byte{
		"elements": elements.Bytes(),
		"shapes":   shapes.Bytes(),
		"text":     text.Bytes(),
	} {
		if len(data) > 32 {
			t.Fatalf("%s: test input too long (%d bytes)", name, len(data))
		}
		if _, err := DecodeSnapshot(data); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}
