package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveRoundTrip(t *testing.T) {
	data, err := Archive([]Entry{
		{Name: "img_000.png", Data: []byte("png-bytes")},
		{Name: "img_000.txt", Data: []byte("trigger, caption")},
	})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)

	got := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		got[f.Name] = content
	}
	assert.Equal(t, []byte("png-bytes"), got["img_000.png"])
	assert.Equal(t, []byte("trigger, caption"), got["img_000.txt"])
}

func TestArchiveRejectsEmptyInput(t *testing.T) {
	_, err := Archive(nil)
	assert.Error(t, err)
}

func TestArchiveRejectsUnnamedEntry(t *testing.T) {
	_, err := Archive([]Entry{{Data: []byte("x")}})
	assert.Error(t, err)
}
