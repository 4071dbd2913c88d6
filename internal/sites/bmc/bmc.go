// Package bmc downloads exams from bmc.io.vn through its JSON API.
package bmc

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scribe-cli/internal/adapter"
	"github.com/xkilldash9x/scribe-cli/internal/browser"
	"github.com/xkilldash9x/scribe-cli/internal/media"
	"github.com/xkilldash9x/scribe-cli/internal/network"
)

const (
	Website = "bmc.io.vn"

	defaultBaseURL     = "https://api.bmc.io.vn/api/v2"
	defaultPassphrase  = "lmf@123456789"
	defaultConcurrency = 3
	maxResultAttempts  = 2
	answerSuffix       = "_ĐÁP_ÁN"
	pandocReader       = "markdown+tex_math_dollars"
)

var examLink = regexp.MustCompile(`exams/([a-z0-9]+)`)

// Session is the bmc login token.
type Session struct {
	Token    string
	Username string
	// Expires is read from the bearer token without verifying it; zero when absent.
	Expires time.Time
}

// documentRunner is the part of media.Runner that turns sheets into PDF.
type documentRunner interface {
	RendersDocuments() bool
	Pandoc(ctx context.Context, job media.DocumentJob) error
}

// Adapter implements adapter.Adapter for bmc.io.vn. The site needs no browser.
type Adapter struct {
	logger      *zap.Logger
	client      *network.Client
	runner      documentRunner
	render      *renderer
	baseURL     string
	passphrase  string
	concurrency int
}

var _ adapter.Adapter = (*Adapter)(nil)

type Option func(*Adapter)

// WithBaseURL points the adapter at another API root.
func WithBaseURL(u string) Option { return func(a *Adapter) { a.baseURL = u } }

// WithPassphrase overrides the payload decryption passphrase.
func WithPassphrase(p string) Option { return func(a *Adapter) { a.passphrase = p } }

// WithConcurrency bounds how many exam parts are fetched at once.
func WithConcurrency(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

func New(deps adapter.Deps, opts ...Option) *Adapter {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cc := network.NewDefaultClientConfig()
	if deps.Client != nil {
		cc = deps.Client.Clone()
	}
	cc.Logger = logger

	a := &Adapter{
		logger:      logger.Named("bmc"),
		client:      network.NewClient(cc),
		render:      newRenderer(),
		baseURL:     defaultBaseURL,
		passphrase:  defaultPassphrase,
		concurrency: defaultConcurrency,
	}
	if deps.Runner != nil {
		a.runner = deps.Runner
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Website() string { return Website }

func (a *Adapter) Login(ctx context.Context, _ browser.Context, username, password string) (adapter.Token, error) {
	var auth authResponse
	err := a.call(ctx, http.MethodPost, "/auth/login", nil,
		map[string]string{"email": username, "password": password}, &auth)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
			a.logger.Warn("Login rejected.", zap.Int("status", apiErr.Status))
			return nil, nil
		}
		return nil, err
	}
	if auth.Token == "" {
		a.logger.Warn("Login response carried no token.")
		return nil, nil
	}

	s := &Session{Token: auth.Token, Username: auth.Username}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(auth.Token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			s.Expires = exp.Time
		}
	}
	a.logger.Info("Logged in.", zap.String("user", s.Username), zap.Time("expires", s.Expires))
	return s, nil
}

func (a *Adapter) Logout(ctx context.Context, _ browser.Context, token adapter.Token) error {
	s, err := session(token)
	if err != nil {
		return err
	}
	var resp logoutResponse
	if err := a.call(ctx, http.MethodDelete, "/auth/sessions", s, nil, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("logout refused: %s", resp.Message)
	}
	return nil
}

// Download fetches every part of the exam behind link and writes a question sheet
// and an answer key per part, as Markdown and, when pandoc is configured, PDF. It fails only when no part could be written.
func (a *Adapter) Download(ctx context.Context, _ browser.Context, token adapter.Token, link, output string) error {
	s, err := session(token)
	if err != nil {
		return err
	}
	m := examLink.FindStringSubmatch(link)
	if m == nil {
		a.logger.Warn("Unsupported link.", zap.String("link", link))
		return nil
	}
	assessmentID := m[1]

	var master masterExam
	if err := a.call(ctx, http.MethodGet, "/exam/by-assessmentId/"+assessmentID, s, nil, &master); err != nil {
		return fmt.Errorf("fetching exam %s: %w", assessmentID, err)
	}
	if len(master.Data) == 0 {
		return fmt.Errorf("exam %s has no parts", assessmentID)
	}
	if err := os.MkdirAll(output, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	a.logger.Info("Processing exam.",
		zap.String("title", master.Assessment.Title.Text), zap.Int("parts", len(master.Data)))

	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, part := range master.Data {
		g.Go(func() error {
			log := a.logger.With(zap.String("part", part.Title.Text), zap.String("subject", part.Subject))
			if err := a.downloadPart(gctx, s, assessmentID, part, output); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Error("Exam part failed.", zap.Error(err))
				failed.Add(1)
				return nil
			}
			log.Info("Exam part saved.")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if n := int(failed.Load()); n == len(master.Data) {
		return fmt.Errorf("all %d exam parts failed", n)
	}
	return nil
}

func (a *Adapter) downloadPart(ctx context.Context, s *Session, assessmentID string, part examPart, output string) error {
	data, err := a.partResult(ctx, s, assessmentID, part)
	if err != nil {
		return err
	}
	name := data.Title.Text
	if name == "" {
		name = part.Title.Text
	}
	name = media.SanitizePath(name)

	questions, err := a.render.Questions(data)
	if err != nil {
		return err
	}
	answers, err := a.render.Answers(data)
	if err != nil {
		return err
	}
	sheets := []struct{ base, body string }{
		{filepath.Join(output, name), questions},
		{filepath.Join(output, name+answerSuffix), answers},
	}
	for _, sh := range sheets {
		if err := os.WriteFile(sh.base+".md", []byte(sh.body), 0o644); err != nil {
			return err
		}
	}
	if a.runner == nil || !a.runner.RendersDocuments() {
		return nil
	}
	for _, sh := range sheets {
		job := media.DocumentJob{Input: sh.base + ".md", Output: sh.base + ".pdf", From: pandocReader}
		if err := a.runner.Pandoc(ctx, job); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The Markdown sheet stays usable without a TeX toolchain.
			a.logger.Warn("PDF rendering failed, keeping Markdown.", zap.String("file", job.Output), zap.Error(err))
		}
	}
	return nil
}

// partResult reads the graded result of one part. Results only exist after a
// submission, so a miss submits the part once and reads again.
func (a *Adapter) partResult(ctx context.Context, s *Session, assessmentID string, part examPart) (examData, error) {
	path := "/exam-result/by-subject/" + assessmentID + "?subject=" + url.QueryEscape(part.Subject)

	var lastErr error
	for attempt := 1; attempt <= maxResultAttempts; attempt++ {
		var res examResult
		err := a.call(ctx, http.MethodGet, path, s, nil, &res)
		if err == nil && len(res.Data.ExamData.Questions) > 0 {
			return res.Data.ExamData, nil
		}
		if err == nil {
			err = errors.New("result has no questions")
		}
		lastErr = err
		if ctx.Err() != nil || attempt == maxResultAttempts {
			break
		}

		a.logger.Debug("Submitting part to unlock results.", zap.String("exam_id", part.ID), zap.Error(err))
		if err := a.submit(ctx, s, assessmentID, part); err != nil {
			return examData{}, fmt.Errorf("submitting %s: %w", part.ID, err)
		}
	}
	return examData{}, fmt.Errorf("reading results for %s: %w", part.ID, lastErr)
}

func (a *Adapter) submit(ctx context.Context, s *Session, assessmentID string, part examPart) error {
	// Report a completion time a little under the allotted time.
	completed := max(int64(part.Time)*60_000-rand.Int64N(30_000), 0)
	return a.call(ctx, http.MethodPost, "/exam-result/submit-test/"+part.ID, s, submitRequest{
		AssessmentID:  assessmentID,
		ExamID:        part.ID,
		Access:        part.Access,
		CompletedTime: completed,
	}, nil)
}

func session(token adapter.Token) (*Session, error) {
	s, ok := token.(*Session)
	if !ok || s == nil || s.Token == "" {
		return nil, fmt.Errorf("bmc: invalid session token %T", token)
	}
	return s, nil
}
