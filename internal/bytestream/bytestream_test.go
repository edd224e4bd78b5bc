package bytestream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkerRestoreRewinds(t *testing.T) {
	s := New()
	s.Write([]byte("hello world"))

	_, err := s.Read(5)
	require.NoError(t, err)

	s.MarkerSet()
	_, err = s.Read(3)
	require.NoError(t, err)

	require.NoError(t, s.MarkerRestore())
	got, err := s.Read(3)
	require.NoError(t, err)
	assert.Equal(t, []byte(" wo"), got)
}

func TestNeedMoreDataDoesNotConsume(t *testing.T) {
	s := New()
	s.Write([]byte("ab"))
	_, err := s.Read(5)
	assert.ErrorIs(t, err, ErrNeedMore)
	assert.Equal(t, 2, s.Buffered())
}

func TestMarkerClearCompactsOnlyUpToEarliestMarker(t *testing.T) {
	s := New()
	s.Write([]byte("0123456789"))

	_, _ = s.Read(2)
	s.MarkerSet() // at offset 2
	_, _ = s.Read(2)
	s.MarkerSet() // at offset 4
	_, _ = s.Read(2)

	require.NoError(t, s.MarkerClear()) // clears offset-4 marker, offset-2 still outstanding
	require.NoError(t, s.MarkerRestore())
	got, err := s.Read(4)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), got)
}

func TestWriteNeverInvalidatesMarkers(t *testing.T) {
	s := New()
	s.Write([]byte("abc"))
	s.MarkerSet()
	_, _ = s.Read(3)
	s.Write([]byte("def"))
	require.NoError(t, s.MarkerRestore())
	got, err := s.Read(6)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdef"), got)
}
