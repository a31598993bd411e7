package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// BinaryCodec serializes GraphState to the compact, length-prefixed,
// little-endian, deterministic-field-order binary encoding spec.md §4.1
// requires for snapshot payloads and GraphState transport. It is a
// bijection on the data model modulo field ordering (§4.1, tested in
// codec_binary_test.go against the round-trip invariant in spec.md §8).
type BinaryCodec struct{}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func writeFloat64(buf *bytes.Buffer, f float64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(f))
	buf.Write(tmp[:])
}

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeOptString(buf *bytes.Buffer, s *string) {
	if s == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeString(buf, *s)
}

// Encode serializes a GraphState. Tables are written in slice order
// followed by relationships, each field written in struct-declaration
// order — this is the "deterministic field order" the spec requires.
func (BinaryCodec) Encode(state GraphState) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("ASLS") // magic: ArchiSchema LiveShare Snapshot
	buf.WriteByte(1)        // format version

	writeUvarint(&buf, uint64(len(state.Tables)))
	for _, t := range state.Tables {
		writeUvarint(&buf, t.NodeId)
		writeString(&buf, t.Name)
		writeFloat64(&buf, t.Position.X)
		writeFloat64(&buf, t.Position.Y)
		writeUvarint(&buf, t.Version)
		writeUvarint(&buf, uint64(len(t.Columns)))
		for _, c := range t.Columns {
			writeString(&buf, c.Name)
			writeString(&buf, c.Type)
			writeBool(&buf, c.PrimaryKey)
			writeBool(&buf, c.Nullable)
			writeBool(&buf, c.Unique)
			writeOptString(&buf, c.Default)
			if c.ForeignKey == nil {
				buf.WriteByte(0)
			} else {
				buf.WriteByte(1)
				writeString(&buf, c.ForeignKey.RefTable)
				writeString(&buf, c.ForeignKey.RefColumn)
			}
		}
	}

	writeUvarint(&buf, uint64(len(state.Relationships)))
	for _, r := range state.Relationships {
		writeUvarint(&buf, r.EdgeId)
		writeUvarint(&buf, r.FromNode)
		writeUvarint(&buf, r.ToNode)
		writeString(&buf, r.FromColumn)
		writeString(&buf, r.ToColumn)
		writeString(&buf, string(r.Kind))
		writeString(&buf, r.Name)
		writeUvarint(&buf, r.Version)
	}

	return buf.Bytes(), nil
}

type byteReader struct {
	r   *bytes.Reader
	err error
}

func (br *byteReader) uvarint() uint64 {
	if br.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(br.r)
	if err != nil {
		br.err = err
	}
	return v
}

func (br *byteReader) str() string {
	n := br.uvarint()
	if br.err != nil {
		return ""
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br.r, buf); err != nil {
		br.err = err
		return ""
	}
	return string(buf)
}

func (br *byteReader) f64() float64 {
	if br.err != nil {
		return 0
	}
	var tmp [8]byte
	if _, err := io.ReadFull(br.r, tmp[:]); err != nil {
		br.err = err
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(tmp[:]))
}

func (br *byteReader) boolean() bool {
	if br.err != nil {
		return false
	}
	b, err := br.r.ReadByte()
	if err != nil {
		br.err = err
		return false
	}
	return b != 0
}

func (br *byteReader) optStr() *string {
	if br.boolean() {
		s := br.str()
		return &s
	}
	return nil
}

// Decode deserializes bytes produced by Encode back into a GraphState.
func (BinaryCodec) Decode(data []byte) (GraphState, error) {
	br := &byteReader{r: bytes.NewReader(data)}

	magic := make([]byte, 4)
	if _, err := io.ReadFull(br.r, magic); err != nil || string(magic) != "ASLS" {
		return GraphState{}, fmt.Errorf("bad snapshot magic")
	}
	version, err := br.r.ReadByte()
	if err != nil {
		return GraphState{}, fmt.Errorf("truncated snapshot header: %w", err)
	}
	if version != 1 {
		return GraphState{}, fmt.Errorf("unsupported snapshot format version %d", version)
	}

	numTables := br.uvarint()
	var tables []Table
	if numTables > 0 {
		tables = make([]Table, 0, numTables)
	}
	for i := uint64(0); i < numTables; i++ {
		var t Table
		t.NodeId = br.uvarint()
		t.Name = br.str()
		t.Position.X = br.f64()
		t.Position.Y = br.f64()
		t.Version = br.uvarint()
		numCols := br.uvarint()
		if numCols > 0 {
			t.Columns = make([]Column, 0, numCols)
		}
		for j := uint64(0); j < numCols; j++ {
			var c Column
			c.Name = br.str()
			c.Type = br.str()
			c.PrimaryKey = br.boolean()
			c.Nullable = br.boolean()
			c.Unique = br.boolean()
			c.Default = br.optStr()
			if br.boolean() {
				c.ForeignKey = &ForeignKey{RefTable: br.str(), RefColumn: br.str()}
			}
			t.Columns = append(t.Columns, c)
		}
		tables = append(tables, t)
	}

	numRels := br.uvarint()
	var rels []Relationship
	if numRels > 0 {
		rels = make([]Relationship, 0, numRels)
	}
	for i := uint64(0); i < numRels; i++ {
		var r Relationship
		r.EdgeId = br.uvarint()
		r.FromNode = br.uvarint()
		r.ToNode = br.uvarint()
		r.FromColumn = br.str()
		r.ToColumn = br.str()
		r.Kind = RelationshipKind(br.str())
		r.Name = br.str()
		r.Version = br.uvarint()
		rels = append(rels, r)
	}

	if br.err != nil {
		return GraphState{}, fmt.Errorf("truncated snapshot body: %w", br.err)
	}

	return GraphState{Tables: tables, Relationships: rels}, nil
}
