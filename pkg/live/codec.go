package live

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/recera/lcars/pkg/element"
	"github.com/recera/lcars/pkg/panel"
)

// maxLen bounds every length prefix read from the wire
const maxLen = 16 << 20

// ErrMalformed is returned for frames that cannot be decoded
var ErrMalformed = errors.New("live: malformed frame")

// Encoder handles encoding of live protocol messages
type Encoder struct {
	w   io.Writer
	tmp [binary.MaxVarintLen64]byte
	err error
}

// NewEncoder creates a new encoder
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Err returns the first write error
func (e *Encoder) Err() error { return e.err }

func (e *Encoder) write(b []byte) error {
	if e.err != nil {
		return e.err
	}
	_, e.err = e.w.Write(b)
	return e.err
}

// WriteUvarint writes an unsigned varint
func (e *Encoder) WriteUvarint(v uint64) error {
	n := binary.PutUvarint(e.tmp[:], v)
	return e.write(e.tmp[:n])
}

// WriteVarint writes a signed varint
func (e *Encoder) WriteVarint(v int64) error {
	n := binary.PutVarint(e.tmp[:], v)
	return e.write(e.tmp[:n])
}

// WriteByte writes a single byte
func (e *Encoder) WriteByte(b byte) error {
	e.tmp[0] = b
	return e.write(e.tmp[:1])
}

// WriteString writes a length-prefixed string
func (e *Encoder) WriteString(s string) error {
	if err := e.WriteUvarint(uint64(len(s))); err != nil {
		return err
	}
	return e.write([]byte(s))
}

// WriteBytes writes length-prefixed bytes
func (e *Encoder) WriteBytes(b []byte) error {
	if err := e.WriteUvarint(uint64(len(b))); err != nil {
		return err
	}
	return e.write(b)
}

// WriteRect writes the four corners of r
func (e *Encoder) WriteRect(r image.Rectangle) error {
	e.WriteVarint(int64(r.Min.X))
	e.WriteVarint(int64(r.Min.Y))
	e.WriteVarint(int64(r.Max.X))
	return e.WriteVarint(int64(r.Max.Y))
}

// Decoder handles decoding of live protocol messages
type Decoder struct {
	r io.Reader
}

// NewDecoder creates a new decoder
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// ReadUvarint reads an unsigned varint
func (d *Decoder) ReadUvarint() (uint64, error) {
	return binary.ReadUvarint(d)
}

// ReadVarint reads a signed varint
func (d *Decoder) ReadVarint() (int64, error) {
	return binary.ReadVarint(d)
}

// ReadByte implements io.ByteReader
func (d *Decoder) ReadByte() (byte, error) {
	var b [1]byte
	_, err := io.ReadFull(d.r, b[:])
	return b[0], err
}

// ReadBytes reads length-prefixed bytes
func (d *Decoder) ReadBytes() ([]byte, error) {
	length, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if length > maxLen {
		return nil, fmt.Errorf("%w: length %d", ErrMalformed, length)
	}
	if l, ok := d.r.(interface{ Len() int }); ok && length > uint64(l.Len()) {
		return nil, fmt.Errorf("%w: length %d exceeds input", ErrMalformed, length)
	}
	if length == 0 {
		return nil, nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadString reads a length-prefixed string
func (d *Decoder) ReadString() (string, error) {
	b, err := d.ReadBytes()
	return string(b), err
}

// ReadRect reads a rectangle written by WriteRect
func (d *Decoder) ReadRect() (image.Rectangle, error) {
	var v [4]int64
	for i := range v {
		n, err := d.ReadVarint()
		if err != nil {
			return image.Rectangle{}, err
		}
		v[i] = n
	}
	return image.Rect(int(v[0]), int(v[1]), int(v[2]), int(v[3])), nil
}

// EncodeMessage encodes one frame
func EncodeMessage(m *Message) []byte {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	enc.WriteByte(byte(m.Type))
	switch m.Type {
	case FrameCall:
		enc.WriteUvarint(m.ID)
		enc.WriteString(m.Method)
		enc.WriteBytes(m.Body)
	case FrameReply:
		enc.WriteUvarint(m.ID)
		enc.WriteString(m.Err)
		enc.WriteBytes(m.Body)
	case FrameHello:
		enc.WriteString(m.Method)
	}
	return buf.Bytes()
}

// DecodeMessage decodes one frame
func DecodeMessage(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	m := &Message{Type: MessageType(data[0])}
	dec := NewDecoder(bytes.NewReader(data[1:]))
	var err error
	switch m.Type {
	case FrameCall:
		if m.ID, err = dec.ReadUvarint(); err != nil {
			break
		}
		if m.Method, err = dec.ReadString(); err != nil {
			break
		}
		m.Body, err = dec.ReadBytes()
	case FrameReply:
		if m.ID, err = dec.ReadUvarint(); err != nil {
			break
		}
		if m.Err, err = dec.ReadString(); err != nil {
			break
		}
		m.Body, err = dec.ReadBytes()
	case FrameHello:
		m.Method, err = dec.ReadString()
	default:
		return nil, fmt.Errorf("%w: unknown frame type %d", ErrMalformed, data[0])
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, m.Type, err)
	}
	return m, nil
}

const (
	flagModal = 1 << iota
	flagSilent
	flagIncremental
)

const (
	flagVisible = 1 << iota
	flagHighlighted
)

// EncodeSnapshot encodes a panel snapshot for an update call. Missing
// element parts stay missing on the wire.
func EncodeSnapshot(s *panel.Snapshot) []byte {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	enc.WriteUvarint(s.PanelID)
	enc.WriteUvarint(s.Seq)

	st := s.State
	enc.WriteVarint(int64(st.Width))
	enc.WriteVarint(int64(st.Height))
	enc.WriteString(st.Background)
	enc.WriteVarint(int64(st.ColorScheme))
	enc.WriteVarint(int64(st.Blink))
	var flags byte
	if st.Modal {
		flags |= flagModal
	}
	if st.Silent {
		flags |= flagSilent
	}
	if s.Incremental {
		flags |= flagIncremental
	}
	enc.WriteByte(flags)
	enc.WriteUvarint(uint64(math.Float32bits(st.Alpha)))

	enc.WriteUvarint(uint64(len(s.Elements)))
	for _, el := range s.Elements {
		encodeElement(enc, el)
	}
	return buf.Bytes()
}

func encodeElement(enc *Encoder, el *element.Element) {
	enc.WriteUvarint(uint64(el.ID))
	present := ^el.Missing() & element.ChangeAll
	enc.WriteByte(byte(present))
	enc.WriteByte(byte(el.Changes))
	if st := el.State; st != nil {
		enc.WriteRect(st.Bounds)
		enc.write([]byte{st.Color.R, st.Color.G, st.Color.B, st.Color.A})
		enc.WriteUvarint(uint64(st.Style))
		var flags byte
		if st.Visible {
			flags |= flagVisible
		}
		if st.Highlighted {
			flags |= flagHighlighted
		}
		enc.WriteByte(flags)
		enc.WriteVarint(int64(st.Touch))
	}
	if geo := el.Geometry; geo != nil {
		enc.WriteUvarint(uint64(len(geo.Shapes)))
		for _, sh := range geo.Shapes {
			enc.WriteByte(byte(sh.Kind))
			enc.WriteRect(sh.Bounds)
			if sh.Foreground {
				enc.WriteByte(1)
			} else {
				enc.WriteByte(0)
			}
			enc.WriteString(sh.Text)
			enc.WriteString(sh.Ref)
		}
	}
}

// DecodeSnapshot decodes a snapshot written by EncodeSnapshot
func DecodeSnapshot(data []byte) (*panel.Snapshot, error) {
	rd := bytes.NewReader(data)
	d := &snapDecoder{Decoder: NewDecoder(rd), rd: rd}
	s := &panel.Snapshot{
		PanelID: d.uvarint(),
		Seq:     d.uvarint(),
	}
	s.State.Width = d.varint()
	s.State.Height = d.varint()
	s.State.Background = d.text()
	s.State.ColorScheme = d.varint()
	s.State.Blink = d.varint()
	flags := d.octet()
	s.State.Modal = flags&flagModal != 0
	s.State.Silent = flags&flagSilent != 0
	s.Incremental = flags&flagIncremental != 0
	s.State.Alpha = math.Float32frombits(uint32(d.uvarint()))

	n := d.count("element", minElementSize)
	if d.err == nil {
		s.Elements = make([]*element.Element, 0, n)
	}
	for i := uint64(0); i < n && d.err == nil; i++ {
		s.Elements = append(s.Elements, d.element())
	}
	if d.err != nil {
		return nil, fmt.Errorf("%w: snapshot: %v", ErrMalformed, d.err)
	}
	return s, nil
}

// Smallest encodings of an element and a shape, used to bound counts
const (
	minElementSize = 3
	minShapeSize   = 8
)

// snapDecoder keeps the first error so field reads can be chained
type snapDecoder struct {
	*Decoder
	rd  *bytes.Reader
	err error
}

// count reads an item count and rejects counts the rest of the input
// cannot hold at size bytes per item
func (d *snapDecoder) count(what string, size int) uint64 {
	n := d.uvarint()
	if d.err == nil && n > uint64(d.rd.Len()/size) {
		d.err = fmt.Errorf("%s count %d exceeds input", what, n)
		return 0
	}
	return n
}

func (d *snapDecoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, err := d.ReadUvarint()
	d.err = err
	return v
}

func (d *snapDecoder) varint() int {
	if d.err != nil {
		return 0
	}
	v, err := d.ReadVarint()
	d.err = err
	return int(v)
}

func (d *snapDecoder) octet() byte {
	if d.err != nil {
		return 0
	}
	b, err := d.ReadByte()
	d.err = err
	return b
}

func (d *snapDecoder) text() string {
	if d.err != nil {
		return ""
	}
	s, err := d.ReadString()
	d.err = err
	return s
}

func (d *snapDecoder) rect() image.Rectangle {
	if d.err != nil {
		return image.Rectangle{}
	}
	r, err := d.ReadRect()
	d.err = err
	return r
}

func (d *snapDecoder) element() *element.Element {
	el := &element.Element{ID: element.Identity(d.uvarint())}
	present := element.ChangeMask(d.octet())
	el.Changes = element.ChangeMask(d.octet())
	if present&element.ChangeState != 0 {
		st := &element.State{Bounds: d.rect()}
		st.Color = color.RGBA{R: d.octet(), G: d.octet(), B: d.octet(), A: d.octet()}
		st.Style = uint32(d.uvarint())
		flags := d.octet()
		st.Visible = flags&flagVisible != 0
		st.Highlighted = flags&flagHighlighted != 0
		st.Touch = d.varint()
		el.State = st
	}
	if present&element.ChangeGeometry != 0 {
		n := d.count("shape", minShapeSize)
		if d.err != nil {
			return el
		}
		geo := &element.Geometry{}
		if n > 0 {
			geo.Shapes = make([]element.Shape, 0, n)
		}
		for i := uint64(0); i < n && d.err == nil; i++ {
			sh := element.Shape{Kind: element.ShapeKind(d.octet()), Bounds: d.rect()}
			sh.Foreground = d.octet() != 0
			sh.Text = d.text()
			sh.Ref = d.text()
			geo.Shapes = append(geo.Shapes, sh)
		}
		el.Geometry = geo
	}
	return el
}
