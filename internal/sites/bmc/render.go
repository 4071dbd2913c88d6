package bmc

import (
	"cmp"
	"fmt"
	"html"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

const (
	blankMarker = "_____________"
	noAnswer    = "Không có đáp án"
	siteDomain  = "https://bmc.io.vn"
)

var (
	bracketMath  = regexp.MustCompile(`\\\[(.*?)\\\]`)
	dollarMath   = regexp.MustCompile(`\$\[(.*?)\]`)
	imgTag       = regexp.MustCompile(`<img src="([^"]+)"[^>]*>`)
	blankSpan    = regexp.MustCompile(`<span class="(?:drag-drop-blank|fill-blank)"[^>]*>.*?</span>`)
	leadingBreak = regexp.MustCompile(`(?i)^<br\s*/?>`)
	verbatim     = regexp.MustCompile(`\$\$[\s\S]*?\$\$|\$[^$\n]+?\$|_{13}`)
	verbatimTok  = regexp.MustCompile(`SCRIBEVERBATIM(\d+)X`)
	trailingNum  = regexp.MustCompile(`(\d+)$`)
)

// renderer turns exam data into Markdown. It is safe for concurrent use.
type renderer struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
}

func newRenderer() *renderer {
	return &renderer{
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal)),
			),
		),
	}
}

// Questions renders the question sheet.
func (r *renderer) Questions(d examData) (string, error) {
	return r.markdown(questionsHTML(d))
}

// Answers renders the answer key.
func (r *renderer) Answers(d examData) (string, error) {
	return r.markdown(answersHTML(d))
}

// markdown sanitises the HTML and converts it. TeX spans and blanks are swapped
// for tokens around the conversion so Markdown escaping leaves them intact.
func (r *renderer) markdown(src string) (string, error) {
	var spans []string
	protected := verbatim.ReplaceAllStringFunc(src, func(m string) string {
		spans = append(spans, html.UnescapeString(m))
		return fmt.Sprintf("SCRIBEVERBATIM%dX", len(spans)-1)
	})

	md, err := r.conv.ConvertString(r.policy.Sanitize(protected), converter.WithDomain(siteDomain))
	if err != nil {
		return "", fmt.Errorf("converting to markdown: %w", err)
	}
	return verbatimTok.ReplaceAllStringFunc(md, func(tok string) string {
		i, err := strconv.Atoi(verbatimTok.FindStringSubmatch(tok)[1])
		if err != nil || i >= len(spans) {
			return tok
		}
		return spans[i]
	}), nil
}

func normalizeMath(s string) string {
	if s == "" {
		return ""
	}
	s = bracketMath.ReplaceAllString(s, "$$$$${1}$$$$")
	s = dollarMath.ReplaceAllString(s, "$$$$${1}$$$$")
	s = strings.ReplaceAll(s, `\$`, "$")
	return strings.ReplaceAll(s, `\2`, `^{\circ}C`)
}

// splitImages pulls the images out of question content so they render below the text.
func splitImages(s string) (string, []string) {
	var urls []string
	for _, m := range imgTag.FindAllStringSubmatch(s, -1) {
		urls = append(urls, m[1])
	}
	s = strings.TrimSpace(imgTag.ReplaceAllString(s, ""))
	return blankSpan.ReplaceAllString(s, blankMarker), urls
}

func questionsHTML(d examData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>%s</h1>", html.EscapeString(d.Title.Text))
	fmt.Fprintf(&b, "<p><strong>Môn học:</strong> %s</p>", html.EscapeString(d.Subject))
	fmt.Fprintf(&b, "<p><strong>Thời gian làm bài:</strong> %d phút</p>", d.Time)

	for _, q := range d.Questions {
		content, images := splitImages(normalizeMath(q.ContentQuestions))
		if q.Type == "MQ" {
			fmt.Fprintf(&b, "<div>%s</div>", content)
			writeImages(&b, images)
			b.WriteString("<hr />")
			continue
		}

		b.WriteString("<div>")
		fmt.Fprintf(&b, "<p><strong>%s.</strong></p>", q.Question)
		fmt.Fprintf(&b, "<div>%s</div>", content)
		writeImages(&b, images)

		switch q.Type {
		case "TN":
			writeOptions(&b, "%s. %s", []string{"A", "B", "C", "D"},
				[]string{q.ContentAnswerA, q.ContentAnswerB, q.ContentAnswerC, q.ContentAnswerD})
		case "MA":
			b.WriteString("<ul>")
			for i, choice := range []string{q.ContentC1, q.ContentC2, q.ContentC3, q.ContentC4} {
				if choice == "" {
					continue
				}
				fmt.Fprintf(&b, "<li>[ ] %c. %s</li>", 'A'+i, normalizeMath(choice))
			}
			b.WriteString("</ul>")
		case "DS":
			writeOptions(&b, "%s) %s", []string{"a", "b", "c", "d"},
				[]string{q.ContentYA, q.ContentYB, q.ContentYC, q.ContentYD})
		case "KT":
			b.WriteString("<p><strong>Các lựa chọn:</strong></p><ul>")
			for _, item := range q.Items {
				fmt.Fprintf(&b, "<li>%s</li>", normalizeMath(item.Content))
			}
			b.WriteString("</ul>")
		}
		b.WriteString("</div>")
	}
	return b.String()
}

func writeImages(b *strings.Builder, urls []string) {
	for _, u := range urls {
		fmt.Fprintf(b, `<p><img src="%s" /></p>`, html.EscapeString(u))
	}
}

func writeOptions(b *strings.Builder, format string, labels, options []string) {
	b.WriteString("<ul>")
	for i, opt := range options {
		if opt == "" {
			continue
		}
		b.WriteString("<li>")
		fmt.Fprintf(b, format, labels[i], normalizeMath(opt))
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
}

func answersHTML(d examData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>%s</h2><hr />", html.EscapeString(d.Title.Text))

	for _, q := range d.Questions {
		if q.Type == "MQ" {
			continue
		}
		b.WriteString("<div>")
		fmt.Fprintf(&b, "<p><strong>%s.</strong></p>", q.Question)
		fmt.Fprintf(&b, "<p><strong>Đáp án: %s</strong></p>", answerText(q))
		if q.Explanation != "" {
			explanation := strings.TrimSpace(leadingBreak.ReplaceAllString(normalizeMath(q.Explanation), ""))
			fmt.Fprintf(&b, "<div><em><strong>Giải thích:</strong> %s</em></div>", explanation)
		}
		b.WriteString("<hr /></div>")
	}
	return b.String()
}

// answerText formats correctAnswer by question type, falling back to noAnswer.
func answerText(q question) string {
	raw := q.CorrectAnswer
	if len(raw) == 0 || string(raw) == "null" || string(raw) == `""` {
		return noAnswer
	}

	switch q.Type {
	case "TN":
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
	case "MA":
		var picks []string
		if json.Unmarshal(raw, &picks) == nil && len(picks) > 0 {
			letters := make([]string, 0, len(picks))
			for _, p := range picks {
				n, err := strconv.Atoi(p[min(1, len(p)):])
				if err != nil || n < 1 {
					continue
				}
				letters = append(letters, string(rune('A'+n-1)))
			}
			return strings.Join(letters, ", ")
		}
	case "DS":
		var m map[string]string
		if json.Unmarshal(raw, &m) == nil && len(m) > 0 {
			parts := make([]string, 0, len(m))
			for _, k := range sortedKeys(m) {
				verdict := "Sai"
				if m[k] == "D" {
					verdict = "Đúng"
				}
				parts = append(parts, k+") "+verdict)
			}
			return strings.Join(parts, "; ")
		}
	case "KT":
		var m map[string]string
		if json.Unmarshal(raw, &m) == nil && len(m) > 0 {
			parts := make([]string, 0, len(m))
			for _, k := range sortedKeys(m) {
				parts = append(parts, strings.TrimPrefix(k, "slot")+" → "+strings.Replace(m[k], ">", "", 1))
			}
			return strings.Join(parts, "; ")
		}
	case "TLN":
		var vals []interface{}
		if json.Unmarshal(raw, &vals) == nil && len(vals) > 0 {
			return joinValues(vals)
		}
	case "TLN_M":
		var m map[string][]interface{}
		if json.Unmarshal(raw, &m) == nil && len(m) > 0 {
			parts := make([]string, 0, len(m))
			for _, k := range sortedKeys(m) {
				parts = append(parts, k+" "+joinValues(m[k]))
			}
			return strings.Join(parts, "; ")
		}
	}
	return noAnswer
}

func joinValues(vals []interface{}) string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = fmt.Sprint(v)
	}
	return strings.Join(out, ", ")
}

// sortedKeys orders keys by their trailing number when both have one ("slot2" < "slot10").
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		na, errA := strconv.Atoi(trailingNum.FindString(a))
		nb, errB := strconv.Atoi(trailingNum.FindString(b))
		if errA == nil && errB == nil && na != nb {
			return cmp.Compare(na, nb)
		}
		return strings.Compare(a, b)
	})
	return keys
}
