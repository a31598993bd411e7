package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBinaryCodecRoundTripsFullGraph(t *testing.T) {
	def := "now()"
	state := GraphState{
		Tables: []Table{
			{
				NodeId: 1, Name: "users", Position: Point{X: 10, Y: 20}, Version: 3,
				Columns: []Column{
					{Name: "id", Type: "uuid", PrimaryKey: true, Unique: true},
					{Name: "created_at", Type: "timestamptz", Default: &def},
					{Name: "org_id", Type: "uuid", ForeignKey: &ForeignKey{RefTable: "orgs", RefColumn: "id"}},
				},
			},
			{NodeId: 2, Name: "orgs", Version: 1},
		},
		Relationships: []Relationship{
			{EdgeId: 1, FromNode: 1, ToNode: 2, FromColumn: "org_id", ToColumn: "id", Kind: RelationshipManyToMany, Name: "belongs_to", Version: 2},
		},
	}

	var codec BinaryCodec
	data, err := codec.Encode(state)
	require.NoError(t, err)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, state, decoded)
}

func TestBinaryCodecRoundTripsEmptyState(t *testing.T) {
	var codec BinaryCodec
	data, err := codec.Encode(GraphState{})
	require.NoError(t, err)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	require.Empty(t, decoded.Tables)
	require.Empty(t, decoded.Relationships)
}

func TestBinaryCodecDecodeRejectsBadMagic(t *testing.T) {
	var codec BinaryCodec
	_, err := codec.Decode([]byte("not a snapshot"))
	require.Error(t, err)
}

func TestBinaryCodecDecodeRejectsTruncatedBody(t *testing.T) {
	var codec BinaryCodec
	data, err := codec.Encode(GraphState{Tables: []Table{{NodeId: 1, Name: "users", Version: 1}}})
	require.NoError(t, err)

	_, err = codec.Decode(data[:len(data)-2])
	require.Error(t, err)
}

func TestBinaryCodecDecodeRejectsUnsupportedVersion(t *testing.T) {
	var codec BinaryCodec
	data, err := codec.Encode(GraphState{})
	require.NoError(t, err)
	data[4] = 2 // corrupt the format version byte

	_, err = codec.Decode(data)
	require.Error(t, err)
}
