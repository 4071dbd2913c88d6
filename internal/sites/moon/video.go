package moon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scribe-cli/internal/browser"
	"github.com/xkilldash9x/scribe-cli/internal/media"
	"github.com/xkilldash9x/scribe-cli/internal/network"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	videoTitlesJS = `Array.from(document.querySelectorAll('.video-right div > div > span')).map((e) => e.textContent.trim())`
	playlistJS    = `Array.from(document.querySelectorAll('.fp-playlist a')).map((a) => a.href)`
)

type lessonPage struct {
	Title  string
	Titles []string
	Vods   []string
}

type videoURLResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
}

// downloadVideos reads the lesson playlist in the browser, resolves each entry to
// a stream URL and downloads the streams with yt-dlp through the proxy.
func (a *Adapter) downloadVideos(ctx context.Context, bctx browser.Context, link, output string) error {
	if a.runner == nil {
		return fmt.Errorf("moon: no download runner configured")
	}
	proxyURL := a.proxyURL()
	if proxyURL == "" {
		a.logger.Warn("Interception proxy disabled; encrypted streams may fail to download.")
	}

	page, err := a.readLesson(ctx, bctx, link)
	if err != nil {
		return err
	}
	cookies, err := bctx.Cookies(ctx)
	if err != nil {
		return err
	}
	urls, err := a.resolveVods(ctx, cookies, page.Vods)
	if err != nil {
		return err
	}

	dir := filepath.Join(output, media.SanitizePath(page.Title))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.runner.Concurrency())
	for i, u := range urls {
		if u == "" {
			a.logger.Warn("No stream for playlist entry.", zap.Int("index", i+1))
			continue
		}
		g.Go(func() error {
			return a.runner.YTDLP(gctx, media.VideoJob{
				URL:     u,
				Dir:     dir,
				Title:   videoTitle(page.Titles, i),
				Proxy:   proxyURL,
				Referer: a.origin,
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("Lesson downloaded.", zap.String("lesson", page.Title), zap.Int("videos", len(urls)))
	return nil
}

func (a *Adapter) readLesson(ctx context.Context, bctx browser.Context, link string) (lessonPage, error) {
	tab, closeTab, err := bctx.NewTab(ctx)
	if err != nil {
		return lessonPage{}, err
	}
	defer closeTab()

	var page lessonPage
	if err := chromedp.Run(tab, chromedp.Navigate(link)); err != nil {
		return lessonPage{}, err
	}
	wctx, cancel := context.WithTimeout(tab, elementTimeout)
	defer cancel()
	err = chromedp.Run(wctx,
		chromedp.WaitVisible(".ask-header p", chromedp.ByQuery),
		chromedp.Text(".ask-header p", &page.Title, chromedp.ByQuery),
		chromedp.WaitReady(".video-right", chromedp.ByQuery),
		chromedp.Evaluate(videoTitlesJS, &page.Titles),
		chromedp.WaitReady(".fp-playlist", chromedp.ByQuery),
		chromedp.Evaluate(playlistJS, &page.Vods),
	)
	if err != nil {
		return lessonPage{}, fmt.Errorf("reading lesson page: %w", err)
	}
	page.Title = strings.TrimSpace(page.Title)
	if len(page.Vods) == 0 {
		return lessonPage{}, fmt.Errorf("lesson %q has an empty playlist", page.Title)
	}
	return page, nil
}

// resolveVods asks the video API for the stream URL of every playlist entry. An
// entry the API refuses resolves to "".
func (a *Adapter) resolveVods(ctx context.Context, cookies []*http.Cookie, vods []string) ([]string, error) {
	jar, err := network.NewCookieJar(a.origin, cookies)
	if err != nil {
		return nil, err
	}
	cc := a.client.Clone()
	cc.Jar = jar
	client := network.NewClient(cc)

	urls := make([]string, len(vods))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(apiConcurrency)
	for i, vod := range vods {
		g.Go(func() error {
			u, err := videoURL(gctx, client, strings.Replace(vod, "vod", "api/video/getvideourl", 1))
			if err != nil {
				return err
			}
			urls[i] = u
			return nil
		})
	}
	return urls, g.Wait()
}

func videoURL(ctx context.Context, client *network.Client, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolving %s: HTTP %d", endpoint, resp.StatusCode)
	}
	var out videoURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("resolving %s: %w", endpoint, err)
	}
	if !out.Success {
		return "", nil
	}
	return out.URL, nil
}

func videoTitle(titles []string, i int) string {
	if i < len(titles) && titles[i] != "" {
		return titles[i]
	}
	return fmt.Sprintf("video %d", i+1)
}
