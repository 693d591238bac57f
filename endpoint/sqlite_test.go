package endpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T, name string, handlers ...PacketHandler) *SQLite {
	t.Helper()
	ep := NewSQLite(t.TempDir(), name, handlers...)
	require.NoError(t, ep.Open(context.Background()))
	t.Cleanup(func() { ep.Close() })
	return ep
}

func TestFilename(t *testing.T) {
	assert.Equal(t, filepath.Join("/mail", "box_a1_b2.sqlite.db"), Filename("/mail", "box:a1-b2"))
}

func TestSendAndPackets(t *testing.T) {
	ctx := context.Background()
	ep := openSQLite(t, "boxA")

	for i, data := range []string{"one", "two", "three"} {
		seq, err := ep.Send(ctx, "cloud", 7, []byte(data))
		require.NoError(t, err)
		assert.Equal(t, int64(i), seq)
	}

	b, err := ep.Bounds(ctx, "boxA", "cloud")
	require.NoError(t, err)
	assert.Equal(t, Bounds{Lower: 0, Upper: 3}, b)

	packets, err := ep.Packets(ctx, "boxA", "cloud", 1, 0)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Equal(t, "two", string(packets[0].Data))
	assert.Equal(t, 7, packets[0].Label)

	packets, err = ep.Packets(ctx, "boxA", "cloud", 0, 1)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, int64(0), packets[0].Seq)
}

func TestUpdateLowerBound(t *testing.T) {
	ctx := context.Background()
	ep := openSQLite(t, "boxA")
	for i := 0; i < 4; i++ {
		_, err := ep.Send(ctx, "cloud", 0, []byte{byte(i)})
		require.NoError(t, err)
	}

	require.NoError(t, ep.UpdateLowerBound(ctx, "boxA", "cloud", 3))
	b, err := ep.Bounds(ctx, "boxA", "cloud")
	require.NoError(t, err)
	assert.Equal(t, Bounds{Lower: 3, Upper: 4}, b)

	// Lowering again is ignored.
	require.NoError(t, ep.UpdateLowerBound(ctx, "boxA", "cloud", 1))
	packets, err := ep.Packets(ctx, "boxA", "cloud", 0, 0)
	require.NoError(t, err)
	require.Len(t, packets, 1)

	// Numbering continues after everything was acknowledged.
	require.NoError(t, ep.UpdateLowerBound(ctx, "boxA", "cloud", 4))
	seq, err := ep.Send(ctx, "cloud", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)
}

func TestDeliverForwarded(t *testing.T) {
	ctx := context.Background()
	ep := openSQLite(t, "boxA")
	p := Packet{Src: "cloud", Dst: "phone", Seq: 5, Label: 1, Data: []byte("x")}

	require.NoError(t, ep.Deliver(ctx, p))
	require.NoError(t, ep.Deliver(ctx, p), "identical redelivery is fine")

	conflicting := p
	conflicting.Data = []byte("y")
	assert.ErrorIs(t, ep.Deliver(ctx, conflicting), ErrConflict)

	packets, err := ep.Packets(ctx, "cloud", "phone", 0, 0)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.True(t, packets[0].Equal(p))
}

func TestDeliverToSelf(t *testing.T) {
	ctx := context.Background()
	var got []Packet
	ep := openSQLite(t, "boxA", func(p Packet) error {
		got = append(got, p)
		return nil
	})

	p := Packet{Src: "cloud", Dst: "boxA", Seq: 0, Data: []byte("config")}
	require.NoError(t, ep.Deliver(ctx, p))
	require.NoError(t, ep.Deliver(ctx, p), "below the lower bound now, ignored")
	require.Len(t, got, 1)

	b, err := ep.Bounds(ctx, "cloud", "boxA")
	require.NoError(t, err)
	assert.Equal(t, Bounds{Lower: 1, Upper: 1}, b)

	packets, err := ep.Packets(ctx, "cloud", "boxA", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, packets)
}

func TestResetAndReopen(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	ep := NewSQLite(root, "boxA")
	require.NoError(t, ep.Open(ctx))
	_, err := ep.Send(ctx, "cloud", 0, []byte("kept"))
	require.NoError(t, err)
	require.NoError(t, ep.Close())

	_, err = ep.Send(ctx, "cloud", 0, nil)
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, ep.Open(ctx))
	require.NoError(t, ep.Open(ctx))
	packets, err := ep.Packets(ctx, "boxA", "cloud", 0, 0)
	require.NoError(t, err)
	assert.Len(t, packets, 1)

	require.NoError(t, ep.Reset(ctx))
	packets, err = ep.Packets(ctx, "boxA", "cloud", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, packets)
	require.NoError(t, ep.Close())
}
