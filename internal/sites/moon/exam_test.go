package moon

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scribe-cli/internal/adapter"
	"github.com/xkilldash9x/scribe-cli/internal/browser/browsertest"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodePNG(t *testing.T, path string) image.Image {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestStitchVertical(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}

	out, err := stitchVertical([][]byte{solidPNG(t, 4, 2, red), solidPNG(t, 2, 3, blue)})
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 4, 5), img.Bounds())
	rgba := func(x, y int) color.RGBA { return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA) }
	assert.Equal(t, red, rgba(3, 1))
	assert.Equal(t, blue, rgba(1, 2))
	assert.Equal(t, blue, rgba(1, 4))
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, rgba(3, 3), "narrow rows are padded white")

	_, err = stitchVertical(nil)
	assert.Error(t, err)
	_, err = stitchVertical([][]byte{[]byte("not a png")})
	assert.ErrorContains(t, err, "decoding image 0")
}

const examResultsPage = `<html><head><style>body { margin: 0; } .part { height: 40px; margin: 0; }</style></head><body>
<div><button class="btn btn-info">Làm lại</button><button class="btn btn-info" onclick="document.getElementById('result').style.display = 'block'">Xem kết quả</button></div>
<div id="result" style="display:none">
	<div class="ask-header"><p> Đề thi thử: Số 1 </p></div>
	<table class="table-bordered"><tr><td>1. A</td><td>2. B</td></tr></table>
	<table><tr><td align="right"><a href="#" onclick="document.querySelectorAll('.noselect').forEach((e) => e.style.display = 'block'); return false;">Xem lời giải</a></td></tr></table>
	<section id="Key_1"></section>
	<div style="padding:15px;background-color:#e6eaef;">Bình luận</div>
	<div class="part">Câu 1</div><div class="part">A. 1 B. 2</div><div class="part">Đáp án A</div>
	<div class="part noselect" style="display:none">Lời giải câu 1</div>
	<section id="Key_2"></section>
	<div class="part">Câu 2</div><div class="part">A. 3 B. 4</div><div class="part">Đáp án B</div>
</div></body></html>`

const examUnfinishedPage = `<html><body>
<p><input type="radio" class="bigRadio" onclick="const x = new XMLHttpRequest(); x.open('POST', '/answer', false); x.send();"></p>
</body></html>`

// newExamSite serves an exam that is unfinished until the answer endpoint is hit.
func newExamSite(t *testing.T) (*httptest.Server, *atomic.Bool) {
	var answered atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/de-thi/id/1/2", func(w http.ResponseWriter, r *http.Request) {
		if answered.Load() {
			fmt.Fprint(w, examResultsPage)
			return
		}
		fmt.Fprint(w, examUnfinishedPage)
	})
	mux.HandleFunc("/answer", func(w http.ResponseWriter, r *http.Request) {
		answered.Store(true)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &answered
}

func TestDownloadExam_Browser(t *testing.T) {
	m := browsertest.NewManager(t)
	srv, answered := newExamSite(t)
	a := New(adapter.Deps{Logger: zaptest.NewLogger(t)}, WithOrigin(srv.URL))
	out := t.TempDir()

	bctx := browsertest.NewContext(t, m)
	require.NoError(t, a.Download(context.Background(), bctx, &Session{}, srv.URL+"/de-thi/id/1/2", out))
	assert.True(t, answered.Load(), "an unfinished exam is answered before capture")

	dir := filepath.Join(out, "Đề thi thử_ Số 1")
	assert.FileExists(t, filepath.Join(dir, answerKeyName))

	// The comment block is dropped and the expanded explanation is kept, so
	// question 1 stacks four 40px blocks and question 2 three.
	first := decodePNG(t, filepath.Join(dir, "1.png"))
	assert.Equal(t, 160, first.Bounds().Dy())
	second := decodePNG(t, filepath.Join(dir, "2.png"))
	assert.Equal(t, 120, second.Bounds().Dy())
	assert.NoFileExists(t, filepath.Join(dir, "3.png"))
}
