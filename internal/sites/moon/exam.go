package moon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scribe-cli/internal/browser"
	"github.com/xkilldash9x/scribe-cli/internal/media"
)

const answerKeyName = "answerKey.png"

const (
	// answerUnfinishedJS picks the first choice of every question so the site
	// reveals the results. Returns the number of questions answered.
	answerUnfinishedJS = `(() => {
	const radios = document.querySelectorAll('p:first-of-type input.bigRadio');
	radios.forEach((e) => e.click());
	return radios.length;
})()`

	expandExplanationsJS = `(() => {
	const links = document.querySelectorAll("table tr td[align='right'] a");
	links.forEach((e) => e.click());
	return links.length;
})()`

	removeCommentsJS = `(() => {
	const comments = document.querySelectorAll("div[style='padding:15px;background-color:#e6eaef;']");
	comments.forEach((e) => e.remove());
	return comments.length;
})()`

	hasAnswerKeyJS = `document.querySelector('.table-bordered') !== null`

	// markPartsJS tags the blocks following every question anchor: the question,
	// its choices, its answer and, when present, the explanation. Returns the
	// number of blocks per question.
	markPartsJS = `(() => {
	const counts = [];
	document.querySelectorAll("section[id^='Key_']").forEach((s, i) => {
		const parts = [];
		let e = s.nextElementSibling;
		for (let k = 0; k < 3 && e; k++) {
			parts.push(e);
			e = e.nextElementSibling;
		}
		if (e && e.classList.contains('noselect')) parts.push(e);
		parts.forEach((p, k) => p.setAttribute('data-scribe-part', (i + 1) + '-' + k));
		counts.push(parts.length);
	});
	return counts;
})()`

	removePartsJS = `document.querySelectorAll('[data-scribe-part^="%d-"]').forEach((e) => e.remove())`
)

// downloadExam opens the exam, finishes it if needed, then saves the answer key
// and one stitched PNG per question into a folder named after the exam.
func (a *Adapter) downloadExam(ctx context.Context, bctx browser.Context, link, output string) error {
	if bctx == nil {
		return errors.New("moon: exam capture needs a browser context")
	}
	tab, closeTab, err := bctx.NewTab(ctx)
	if err != nil {
		return err
	}
	defer closeTab()

	var unanswered int
	err = chromedp.Run(tab,
		chromedp.EmulateViewport(1920, 1080),
		chromedp.Navigate(link),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(answerUnfinishedJS, &unanswered),
	)
	if err != nil {
		return fmt.Errorf("loading exam: %w", err)
	}
	if unanswered > 0 {
		a.logger.Info("Exam was unfinished; submitted first choices.", zap.Int("questions", unanswered))
		if err := chromedp.Run(tab, chromedp.Reload(), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
			return fmt.Errorf("reloading exam: %w", err)
		}
	}

	var title string
	wctx, cancel := context.WithTimeout(tab, elementTimeout)
	err = chromedp.Run(wctx,
		chromedp.Click(".btn-info:last-of-type", chromedp.ByQuery),
		chromedp.Text(".ask-header p", &title, chromedp.ByQuery, chromedp.NodeVisible),
	)
	cancel()
	if err != nil {
		return fmt.Errorf("opening exam results: %w", err)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("moon: exam title not found on %s", link)
	}

	dir := filepath.Join(output, media.SanitizePath(title))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := a.captureAnswerKey(tab, dir); err != nil {
		return err
	}

	var (
		expanded, removed int
		counts            []int
	)
	err = chromedp.Run(tab,
		chromedp.Evaluate(expandExplanationsJS, &expanded),
		chromedp.Evaluate(removeCommentsJS, &removed),
		chromedp.Evaluate(markPartsJS, &counts),
	)
	if err != nil {
		return fmt.Errorf("preparing questions: %w", err)
	}
	a.logger.Debug("Prepared exam.",
		zap.String("exam", title),
		zap.Int("explanations", expanded),
		zap.Int("comments_removed", removed),
		zap.Int("questions", len(counts)))

	saved := 0
	for i, n := range counts {
		q := i + 1
		if err := a.captureQuestion(tab, dir, q, n); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("Could not capture question.", zap.Int("n", q), zap.Error(err))
			continue
		}
		saved++
	}
	a.logger.Info("Captured exam.", zap.String("exam", title), zap.Int("questions", saved), zap.Int("of", len(counts)))
	return nil
}

func (a *Adapter) captureAnswerKey(tab context.Context, dir string) error {
	var present bool
	if err := chromedp.Run(tab, chromedp.Evaluate(hasAnswerKeyJS, &present)); err != nil {
		return err
	}
	if !present {
		a.logger.Warn("Exam has no answer key table.")
		return nil
	}
	var buf []byte
	wctx, cancel := context.WithTimeout(tab, elementTimeout)
	defer cancel()
	if err := chromedp.Run(wctx, chromedp.Screenshot(".table-bordered", &buf, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("capturing answer key: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, answerKeyName), buf, 0o644)
}

// captureQuestion screenshots the n tagged blocks of question q, stitches them
// and removes them from the page.
func (a *Adapter) captureQuestion(tab context.Context, dir string, q, n int) error {
	if n == 0 {
		return errors.New("no content after anchor")
	}
	wctx, cancel := context.WithTimeout(tab, elementTimeout)
	defer cancel()

	shots := make([][]byte, n)
	for k := range shots {
		sel := fmt.Sprintf(`[data-scribe-part="%d-%d"]`, q, k)
		if err := chromedp.Run(wctx, chromedp.Screenshot(sel, &shots[k], chromedp.ByQuery)); err != nil {
			return fmt.Errorf("block %d: %w", k, err)
		}
	}
	merged, err := stitchVertical(shots)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.png", q)), merged, 0o644); err != nil {
		return err
	}
	return chromedp.Run(wctx, chromedp.Evaluate(fmt.Sprintf(removePartsJS, q), nil))
}

// stitchVertical stacks PNG images top to bottom, left aligned, on a white
// canvas as wide as the widest image.
func stitchVertical(parts [][]byte) ([]byte, error) {
	if len(parts) == 0 {
		return nil, errors.New("nothing to stitch")
	}
	imgs := make([]image.Image, len(parts))
	width, height := 0, 0
	for i, p := range parts {
		img, err := png.Decode(bytes.NewReader(p))
		if err != nil {
			return nil, fmt.Errorf("decoding image %d: %w", i, err)
		}
		b := img.Bounds()
		width = max(width, b.Dx())
		height += b.Dy()
		imgs[i] = img
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	y := 0
	for _, img := range imgs {
		b := img.Bounds()
		draw.Draw(canvas, image.Rect(0, y, b.Dx(), y+b.Dy()), img, b.Min, draw.Over)
		y += b.Dy()
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
