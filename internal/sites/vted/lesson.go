package vted

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scribe-cli/internal/media"
	"github.com/xkilldash9x/scribe-cli/internal/network"
)

type video struct {
	Title string
	URL   string
}

// downloadLesson resolves the video of the lesson and of every sibling lesson
// linked from it, then hands the batch to aria2c. Lesson pages render without
// JavaScript, so plain HTTP is enough.
func (a *Adapter) downloadLesson(ctx context.Context, client *network.Client, link, output string) error {
	if a.runner == nil {
		return fmt.Errorf("vted: no download runner configured")
	}
	doc, base, err := fetchDocument(ctx, client, link)
	if err != nil {
		return err
	}
	title := strings.TrimSpace(doc.Find(".lesson-detail h4").First().Text())
	if title == "" {
		return fmt.Errorf("lesson title: %w", errMissing)
	}

	pages := []string{link}
	seen := map[string]bool{link: true}
	doc.Find("a.btn[href^='/khoa-hoc/baigiang']").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		if u := resolve(base, href); !seen[u] {
			seen[u] = true
			pages = append(pages, u)
		}
	})
	a.logger.Info("Resolving lesson videos.", zap.String("lesson", title), zap.Int("pages", len(pages)))

	videos := make([]video, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pageConcurrency)
	for i, page := range pages {
		g.Go(func() error {
			v, err := a.resolveVideo(gctx, client, page)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", page, err)
			}
			videos[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	entries := make([]media.Entry, len(videos))
	for i, v := range videos {
		entries[i] = media.Entry{URL: v.URL, Name: v.Title + ".mp4"}
	}
	return a.runner.Aria2c(ctx, media.BatchJob{
		Dir:       filepath.Join(output, media.SanitizePath(title)),
		Entries:   entries,
		Referer:   a.origin,
		UserAgent: a.client.UserAgent,
	})
}

// resolveVideo follows a lesson page to its player frame and reads the video source.
func (a *Adapter) resolveVideo(ctx context.Context, client *network.Client, page string) (video, error) {
	doc, base, err := fetchDocument(ctx, client, page)
	if err != nil {
		return video{}, err
	}
	v := video{Title: strings.TrimSpace(doc.Find("input[type='button'][disabled]").First().AttrOr("value", ""))}
	if v.Title == "" {
		v.Title = "video"
	}

	frame, ok := doc.Find(".asyncVideo").First().Attr("data-url")
	if !ok || frame == "" {
		return video{}, fmt.Errorf("video frame: %w", errMissing)
	}
	frameDoc, frameBase, err := fetchDocument(ctx, client, resolve(base, frame))
	if err != nil {
		return video{}, err
	}
	player := frameDoc.Find("video").First()
	src := player.AttrOr("src", "")
	if src == "" {
		src = player.Find("source").First().AttrOr("src", "")
	}
	if src == "" {
		return video{}, fmt.Errorf("video source: %w", errMissing)
	}
	v.URL = resolve(frameBase, src)
	return v, nil
}

// fetchDocument GETs a page and parses it. The returned URL is the final one after
// redirects, for resolving relative links.
func fetchDocument(ctx context.Context, client *network.Client, rawURL string) (*goquery.Document, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("fetching %s: HTTP %d", rawURL, resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", rawURL, err)
	}
	return doc, resp.Request.URL, nil
}

func resolve(base *url.URL, ref string) string {
	u, err := base.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return u.String()
}
