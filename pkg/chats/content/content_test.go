package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText_PartKind(t *testing.T) {
	p := Text{Text: "hello"}
	assert.Equal(t, "text", p.PartKind())
}

func TestImage_PartKind(t *testing.T) {
	p := Image{URL: "https://example.com/img.png", MediaType: "image/png"}
	assert.Equal(t, "image", p.PartKind())
}

func TestImage_Reference_URL(t *testing.T) {
	img := Image{URL: "https://example.com/cat.jpg"}

	assert.False(t, img.Inline())
	assert.Equal(t, "https://example.com/cat.jpg", img.Reference())
}

func TestImage_Reference_Inline(t *testing.T) {
	img := Image{Data: []byte("abc")}

	assert.True(t, img.Inline())
	assert.Equal(t, "data:image/png;base64,YWJj", img.Reference())
}

func TestParseImage_RoundTrip(t *testing.T) {
	in := Image{Data: []byte{0x89, 0x50, 0x4e, 0x47}, MediaType: "image/jpeg"}

	out, err := ParseImage(in.Reference())
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
}

func TestParseImage_URL(t *testing.T) {
	out, err := ParseImage("https://example.com/a.png")
	require.NoError(t, err)
	assert.Equal(t, Image{URL: "https://example.com/a.png"}, out)
}

func TestParseImage_Errors(t *testing.T) {
	for _, ref := range []string{"", "data:image/png;base64", "data:image/png,abc", "data:image/png;base64,%%%"} {
		_, err := ParseImage(ref)
		assert.Error(t, err, ref)
	}
}

func TestImageFromBase64(t *testing.T) {
	img, err := ImageFromBase64("YWJj", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), img.Data)
	assert.Equal(t, DefaultImageMediaType, img.MediaType)
	assert.Equal(t, DefaultInlineDetail, img.Detail)

	img, err = ImageFromBase64("YWJj\n", "image/webp")
	require.NoError(t, err)
	assert.Equal(t, "image/webp", img.MediaType)

	_, err = ImageFromBase64("not base64!", "")
	assert.Error(t, err)
}

func TestClone_DoesNotShareData(t *testing.T) {
	orig := Image{Data: []byte("abc")}
	cp := Clone(orig).(Image)
	cp.Data[0] = 'x'

	assert.Equal(t, []byte("abc"), orig.Data)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Text{Text: "a"}, Text{Text: "a"}))
	assert.False(t, Equal(Text{Text: "a"}, Text{Text: "b"}))
	assert.True(t, Equal(Image{Data: []byte("x")}, Image{Data: []byte("x")}))
	assert.False(t, Equal(Image{URL: "u"}, Text{Text: "u"}))
}
