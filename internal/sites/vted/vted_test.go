package vted

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scribe-cli/internal/adapter"
	"github.com/xkilldash9x/scribe-cli/internal/browser/browsertest"
	"github.com/xkilldash9x/scribe-cli/internal/media"
)

type fakeRunner struct {
	mu   sync.Mutex
	jobs []media.BatchJob
	err  error
}

func (f *fakeRunner) Aria2c(_ context.Context, job media.BatchJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return f.err
}

const pdfBytes = "%PDF-1.4 fake"

// newFakeSite serves lesson and exam pages. Downloads require the auth cookie.
func newFakeSite(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	lesson := func(n int, withSiblings bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			siblings := ""
			if withSiblings {
				siblings = `<a class="btn" href="/khoa-hoc/baigiang-2">Bài 2</a>
					<a class="btn" href="/khoa-hoc/baigiang-1">Bài 1</a>`
			}
			fmt.Fprintf(w, `<html><body>
				<div class="lesson-detail"><h4> Chương 1: Hàm số </h4></div>
				%s
				<input type="button" disabled value="Bài %d">
				<div class="asyncVideo" data-url="/frame/%d"></div>
			</body></html>`, siblings, n, n)
		}
	}
	mux.HandleFunc("/khoa-hoc/baigiang-1", lesson(1, true))
	mux.HandleFunc("/khoa-hoc/baigiang-2", lesson(2, false))
	mux.HandleFunc("/frame/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<video src="https://cdn.example.vn/1.mp4"></video>`)
	})
	mux.HandleFunc("/frame/2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<video><source src="/media/2.mp4"></video>`)
	})
	mux.HandleFunc("/khoa-hoc/baigiang-broken", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<div class="lesson-detail"><h4>Hỏng</h4></div>`)
	})

	mux.HandleFunc("/on-tap/de-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<div class="lesson-detail-header"><h2>Đề ôn tập 1</h2></div>
			<div class="lesson-detail-info"><i class="fa fa-file-pdf-o"></i></div>
			<a href="/practice/practiceresult/1">Xem đáp án</a>`)
	})
	mux.HandleFunc("/practice/practiceresult/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="/practice/download/1">PDF</a>`)
	})
	mux.HandleFunc("/practice/download/1", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("auth"); err != nil || c.Value != "ok" {
			http.Error(w, "login required", http.StatusForbidden)
			return
		}
		fmt.Fprint(w, pdfBytes)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestAdapter(t *testing.T, srv *httptest.Server) (*Adapter, *fakeRunner) {
	a := New(adapter.Deps{Logger: zaptest.NewLogger(t)}, WithOrigin(srv.URL))
	runner := &fakeRunner{}
	a.runner = runner
	return a, runner
}

var authed = &Session{Cookies: []*http.Cookie{{Name: "auth", Value: "ok"}}}

func TestDownload_Lesson(t *testing.T) {
	srv := newFakeSite(t)
	a, runner := newTestAdapter(t, srv)
	out := t.TempDir()

	require.NoError(t, a.Download(context.Background(), nil, authed, srv.URL+"/khoa-hoc/baigiang-1", out))

	require.Len(t, runner.jobs, 1)
	job := runner.jobs[0]
	assert.Equal(t, filepath.Join(out, "Chương 1_ Hàm số"), job.Dir)
	assert.Equal(t, srv.URL, job.Referer)
	assert.Equal(t, []media.Entry{
		{URL: "https://cdn.example.vn/1.mp4", Name: "Bài 1.mp4"},
		{URL: srv.URL + "/media/2.mp4", Name: "Bài 2.mp4"},
	}, job.Entries, "the starting lesson comes first and duplicates are dropped")
}

func TestDownload_LessonErrors(t *testing.T) {
	srv := newFakeSite(t)

	t.Run("missing video frame", func(t *testing.T) {
		a, runner := newTestAdapter(t, srv)
		err := a.Download(context.Background(), nil, authed, srv.URL+"/khoa-hoc/baigiang-broken", t.TempDir())
		assert.ErrorIs(t, err, errMissing)
		assert.Empty(t, runner.jobs)
	})

	t.Run("runner failure", func(t *testing.T) {
		a, runner := newTestAdapter(t, srv)
		runner.err = errors.New("aria2c exited 1")
		err := a.Download(context.Background(), nil, authed, srv.URL+"/khoa-hoc/baigiang-2", t.TempDir())
		assert.ErrorContains(t, err, "aria2c exited 1")
	})

	t.Run("no runner", func(t *testing.T) {
		a := New(adapter.Deps{Logger: zaptest.NewLogger(t)}, WithOrigin(srv.URL))
		err := a.Download(context.Background(), nil, authed, srv.URL+"/khoa-hoc/baigiang-2", t.TempDir())
		assert.ErrorContains(t, err, "no download runner")
	})
}

func TestDownload_ExamPDF(t *testing.T) {
	srv := newFakeSite(t)
	a, _ := newTestAdapter(t, srv)
	out := t.TempDir()

	require.NoError(t, a.Download(context.Background(), nil, authed, srv.URL+"/on-tap/de-1", out))
	got, err := os.ReadFile(filepath.Join(out, "Đề ôn tập 1", pdfName))
	require.NoError(t, err)
	assert.Equal(t, pdfBytes, string(got))

	anonymous := &Session{}
	err = a.Download(context.Background(), nil, anonymous, srv.URL+"/on-tap/de-1", t.TempDir())
	assert.ErrorContains(t, err, "HTTP 403")
}

func TestDownload_UnsupportedAndInvalid(t *testing.T) {
	srv := newFakeSite(t)
	a, runner := newTestAdapter(t, srv)

	assert.NoError(t, a.Download(context.Background(), nil, authed, "https://example.com/khoa-hoc/baigiang-1", t.TempDir()))
	assert.Empty(t, runner.jobs)

	assert.Error(t, a.Download(context.Background(), nil, "cookies", srv.URL+"/khoa-hoc/baigiang-1", t.TempDir()))
}

func TestWebsite(t *testing.T) {
	a := New(adapter.Deps{})
	assert.Equal(t, "vted", adapter.Prefix(a.Website()))
	assert.Nil(t, a.runner, "no runner without deps")
}

// -- Browser integration --

// newLoginSite serves an account form that redirects home on the right password.
func newLoginSite(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/Account/Login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.FormValue("Email") == "hs@vted.vn" && r.FormValue("Password") == "pw" {
			http.SetCookie(w, &http.Cookie{Name: "auth", Value: "ok", Path: "/"})
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		fmt.Fprint(w, `<form method="post" action="/Account/Login">
			<input id="Email" name="Email"><input id="Password" name="Password" type="password">
			<input type="submit" value="Đăng nhập"></form>`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<form id="logoutForm" method="post" action="/logout"></form>`)
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "auth", Value: "", Path: "/", MaxAge: -1})
		fmt.Fprint(w, "bye")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoginLogout_Browser(t *testing.T) {
	m := browsertest.NewManager(t)
	srv := newLoginSite(t)
	a := New(adapter.Deps{Logger: zaptest.NewLogger(t)}, WithOrigin(srv.URL), WithLoginURL(srv.URL+"/Account/Login"))
	ctx := context.Background()

	t.Run("bad password", func(t *testing.T) {
		tok, err := a.Login(ctx, browsertest.NewContext(t, m), "hs@vted.vn", "nope")
		require.NoError(t, err)
		assert.Nil(t, tok)
	})

	t.Run("success", func(t *testing.T) {
		bctx := browsertest.NewContext(t, m)
		tok, err := a.Login(ctx, bctx, "hs@vted.vn", "pw")
		require.NoError(t, err)
		require.IsType(t, &Session{}, tok)
		var names []string
		for _, c := range tok.(*Session).Cookies {
			names = append(names, c.Name)
		}
		assert.Contains(t, names, "auth")

		require.NoError(t, a.Logout(ctx, bctx, tok))
	})
}
