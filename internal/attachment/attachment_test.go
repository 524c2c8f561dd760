package attachment_test

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetlight-api/internal/attachment"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

func TestDecode_PlainBase64Sniffs(t *testing.T) {
	p, err := attachment.Decode(base64.StdEncoding.EncodeToString(pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "image/png", p.ContentType)
	assert.Equal(t, ".png", p.Ext())
	assert.Equal(t, pngHeader, p.Data)
}

func TestDecode_DataURL(t *testing.T) {
	p, err := attachment.Decode("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("fake-jpeg")))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", p.ContentType)
	assert.Equal(t, ".jpg", p.Ext())
}

func TestDecode_Unpadded(t *testing.T) {
	enc := strings.TrimRight(base64.StdEncoding.EncodeToString(pngHeader[:10]), "=")
	p, err := attachment.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, pngHeader[:10], p.Data)
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":        "   ",
		"not base64":   "@@@@",
		"not image":    base64.StdEncoding.EncodeToString([]byte("hello world, plain text")),
		"data url raw": "data:image/png,abc",
		"no comma":     "data:image/png;base64",
		"pdf declared": "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("%PDF")),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := attachment.Decode(in)
			assert.Error(t, err)
		})
	}
}

func TestDecode_TooLarge(t *testing.T) {
	big := make([]byte, attachment.MaxBytes+1)
	copy(big, pngHeader)
	_, err := attachment.Decode(base64.StdEncoding.EncodeToString(big))
	assert.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	ts := time.Date(2026, 10, 19, 23, 30, 0, 0, time.FixedZone("CST", 8*3600))
	assert.Equal(t, "lights/2026/10/19/abc.jpg", attachment.ObjectKey(ts, "abc", ".jpg"))
}
