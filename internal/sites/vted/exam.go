package vted

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scribe-cli/internal/browser"
	"github.com/xkilldash9x/scribe-cli/internal/media"
	"github.com/xkilldash9x/scribe-cli/internal/network"
)

const pdfName = "Đề bài.pdf"

const prepareAnswersJS = `(() => {
	document.querySelector('#menutop-sticky-wrapper')?.remove();
	document.querySelectorAll('.panel-body .answer').forEach((e) => e.remove());
	const answers = document.querySelectorAll('.answer');
	answers.forEach((e, i) => e.setAttribute('data-scribe-answer', String(i + 1)));
	return answers.length;
})()`

// toggleAnswerJS unlocks (or relocks) one answer block; opening also expands
// its explanation.
const toggleAnswerJS = `((n, open) => {
	const e = document.querySelector('[data-scribe-answer="' + n + '"]');
	if (!e) return false;
	e.classList.toggle('lock', !open);
	e.classList.toggle('block', open);
	if (open) e.querySelector('.explain-question a')?.click();
	return true;
})(%d, %t)`

// downloadExam saves the exam PDF when the site offers one, then captures every
// answer with its explanation as a PNG.
func (a *Adapter) downloadExam(ctx context.Context, bctx browser.Context, client *network.Client, link, output string) error {
	doc, base, err := fetchDocument(ctx, client, link)
	if err != nil {
		return err
	}
	title := strings.TrimSpace(doc.Find(".lesson-detail-header h2").First().Text())
	if title == "" {
		return fmt.Errorf("exam title: %w", errMissing)
	}
	hasPDF := doc.Find(".lesson-detail-info .fa-file-pdf-o").Length() > 0
	answerHref, ok := doc.Find("a[href^='/practice/practiceresult']").First().Attr("href")
	if !ok {
		return fmt.Errorf("answer page link: %w", errMissing)
	}
	answerURL := resolve(base, answerHref)

	dir := filepath.Join(output, media.SanitizePath(title))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if hasPDF {
		answers, answersBase, err := fetchDocument(ctx, client, answerURL)
		if err != nil {
			return err
		}
		pdfHref, ok := answers.Find("a[href^='/practice/download']").First().Attr("href")
		if !ok {
			return fmt.Errorf("pdf link: %w", errMissing)
		}
		if err := a.saveFile(ctx, client, resolve(answersBase, pdfHref), filepath.Join(dir, pdfName)); err != nil {
			return fmt.Errorf("downloading pdf: %w", err)
		}
	}

	if bctx == nil {
		return nil
	}
	n, err := a.captureAnswers(ctx, bctx, answerURL, dir)
	if err != nil {
		return err
	}
	a.logger.Info("Captured answers.", zap.String("exam", title), zap.Int("count", n))
	return nil
}

// saveFile streams a download into a temp file and renames it into place.
func (a *Adapter) saveFile(ctx context.Context, client *network.Client, rawURL, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	a.logger.Info("Saved file.", zap.String("path", path), zap.String("size", humanize.Bytes(uint64(n))))
	return nil
}

func (a *Adapter) captureAnswers(ctx context.Context, bctx browser.Context, answerURL, dir string) (int, error) {
	tab, closeTab, err := bctx.NewTab(ctx)
	if err != nil {
		return 0, err
	}
	defer closeTab()

	var count int
	err = chromedp.Run(tab,
		chromedp.EmulateViewport(1920, 1080),
		chromedp.Navigate(answerURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(prepareAnswersJS, &count),
	)
	if err != nil {
		return 0, fmt.Errorf("loading answers: %w", err)
	}
	if count == 0 {
		return 0, fmt.Errorf("no answers found on %s", answerURL)
	}

	for i := 1; i <= count; i++ {
		var (
			shown, hidden bool
			png           []byte
		)
		err := chromedp.Run(tab,
			chromedp.Evaluate(fmt.Sprintf(toggleAnswerJS, i, true), &shown),
			chromedp.Screenshot(fmt.Sprintf(`[data-scribe-answer="%d"]`, i), &png, chromedp.ByQuery),
			chromedp.Evaluate(fmt.Sprintf(toggleAnswerJS, i, false), &hidden),
		)
		if err != nil {
			return i - 1, fmt.Errorf("capturing answer %d: %w", i, err)
		}
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.png", i)), png, 0o644); err != nil {
			return i - 1, err
		}
		a.logger.Debug("Captured answer.", zap.Int("n", i), zap.Int("of", count))
	}
	return count, nil
}
