package mediastore_test

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/popeskul/wa-relay/internal/mediastore"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain", input: "photo.jpg", expected: "photo.jpg"},
		{name: "spaces and symbols", input: "my holiday (1)!.jpg", expected: "my_holiday_1_.jpg"},
		{name: "traversal", input: "../../etc/passwd", expected: "passwd"},
		{name: "windows path", input: `C:\Users\me\cv.pdf`, expected: "cv.pdf"},
		{name: "hidden file", input: ".bashrc", expected: "bashrc"},
		{name: "unicode only", input: "фото", expected: ""},
		{name: "empty", input: "", expected: ""},
		{name: "dots", input: "..", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, mediastore.SanitizeFilename(tt.input))
		})
	}
}

func TestSanitizeFilename_Truncates(t *testing.T) {
	out := mediastore.SanitizeFilename(strings.Repeat("a", 300) + ".png")
	assert.LessOrEqual(t, len(out), 100)
	assert.True(t, strings.HasSuffix(out, ".png"))
}

func TestClean(t *testing.T) {
	valid := map[string]string{
		"uploads/a.png":          "uploads/a.png",
		"whatsapp/2026/../x.jpg": "whatsapp/x.jpg",
		"uploads//2026/./b.pdf":  "uploads/2026/b.pdf",
	}
	for in, want := range valid {
		got, err := mediastore.Clean(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, in := range []string{"", "/etc/passwd", "../secret", "uploads/../../x", "..", `uploads\..\x`} {
		_, err := mediastore.Clean(in)
		assert.ErrorIs(t, err, mediastore.ErrPathTraversal, in)
	}
}

func TestStore_InboundPaths(t *testing.T) {
	store := mediastore.New(afero.NewMemMapFs())
	now := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		filename string
		ext      string
		expected string
	}{
		{name: "filename with extension", filename: "Report Q1.PDF", expected: "whatsapp/2026/03/42/Report_Q1.pdf"},
		{name: "explicit extension wins", filename: "voice", ext: "ogg", expected: "whatsapp/2026/03/42/voice.ogg"},
		{name: "no filename", ext: ".jpg", expected: "whatsapp/2026/03/42/message-42.jpg"},
		{name: "unsafe filename", filename: "../../../", ext: "png", expected: "whatsapp/2026/03/42/message-42.png"},
		{name: "garbage extension dropped", filename: "clip", ext: "m/p4", expected: "whatsapp/2026/03/42/clip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout := store.InboundPaths(42, tt.filename, tt.ext, now)
			assert.Equal(t, tt.expected, layout.Original)
			assert.Equal(t, "whatsapp/2026/03/42/thumb.jpg", layout.Thumbnail)
			assert.Equal(t, "whatsapp/2026/03/42/preview.jpg", layout.Preview)
		})
	}
}

func TestStore_UploadPath(t *testing.T) {
	store := mediastore.New(afero.NewMemMapFs())
	now := time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)

	p1 := store.UploadPath("my file.png", now)
	p2 := store.UploadPath("my file.png", now)

	assert.True(t, strings.HasPrefix(p1, "uploads/2026/10/"))
	assert.True(t, strings.HasSuffix(p1, "-my_file.png"))
	assert.NotEqual(t, p1, p2)

	assert.True(t, strings.HasSuffix(store.UploadPath("", now), "-file"))
	assert.True(t, strings.HasSuffix(store.UploadPath("Scan.PDF", now), "-Scan.pdf"))
	assert.True(t, strings.HasSuffix(store.UploadPath(".jpg", now), "-file.jpg"))
}

func TestStore_WriteOpenRemove(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := mediastore.New(fs)

	payload := []byte("binary-content")
	n, err := store.Write("uploads/2026/10/a.bin", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.True(t, store.Exists("uploads/2026/10/a.bin"))

	// no temp files left behind
	entries, err := afero.ReadDir(fs, "uploads/2026/10")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.bin", entries[0].Name())

	f, err := store.Open("uploads/2026/10/a.bin")
	require.NoError(t, err)
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, payload, got)

	info, err := store.Stat("uploads/2026/10/a.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), info.Size())

	// overwrite replaces the content
	_, err = store.Write("uploads/2026/10/a.bin", strings.NewReader("v2"))
	require.NoError(t, err)
	data, err := afero.ReadFile(fs, "uploads/2026/10/a.bin")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	require.NoError(t, store.Remove("uploads/2026/10/a.bin"))
	assert.False(t, store.Exists("uploads/2026/10/a.bin"))
	require.NoError(t, store.Remove("uploads/2026/10/a.bin"))

	_, err = store.Open("uploads/2026/10/a.bin")
	assert.ErrorIs(t, err, mediastore.ErrNotFound)
	_, err = store.Stat("uploads/2026/10")
	assert.ErrorIs(t, err, mediastore.ErrNotFound)
}

func TestStore_RejectsTraversal(t *testing.T) {
	store := mediastore.New(afero.NewMemMapFs())

	_, err := store.Write("../outside.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, mediastore.ErrPathTraversal)

	_, err = store.Open("/etc/passwd")
	assert.ErrorIs(t, err, mediastore.ErrPathTraversal)

	assert.False(t, store.Exists("../../x"))
	assert.ErrorIs(t, store.Remove("../x"), mediastore.ErrPathTraversal)
}
