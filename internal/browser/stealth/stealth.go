package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"runtime"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsScript string

// Persona defines the browser characteristics to emulate.
type Persona struct {
	UserAgent string
	Platform  string
	Languages []string
	Timezone  string
	Locale    string
}

// DefaultPersona is a desktop Chrome profile for Vietnamese sites.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"vi-VN", "vi", "en-US", "en"},
	Timezone:  "Asia/Ho_Chi_Minh",
	Locale:    "vi-VN",
}

// PersonaFor overlays configured values on DefaultPersona. Empty values keep the default.
func PersonaFor(userAgent, locale, timezone string) Persona {
	p := DefaultPersona
	p.Languages = append([]string(nil), DefaultPersona.Languages...)
	if userAgent != "" {
		p.UserAgent = userAgent
		p.Platform = platformFor(userAgent)
	}
	if timezone != "" {
		p.Timezone = timezone
	}
	if locale != "" && locale != p.Locale {
		p.Locale = locale
		base, _, _ := strings.Cut(locale, "-")
		p.Languages = []string{locale}
		if base != locale {
			p.Languages = append(p.Languages, base)
		}
		if base != "en" {
			p.Languages = append(p.Languages, "en")
		}
	}
	return p
}

func platformFor(userAgent string) string {
	switch {
	case strings.Contains(userAgent, "Windows"):
		return "Win32"
	case strings.Contains(userAgent, "Macintosh"):
		return "MacIntel"
	case strings.Contains(userAgent, "Linux"):
		return "Linux x86_64"
	}
	if runtime.GOOS == "darwin" {
		return "MacIntel"
	}
	return "Win32"
}

// AcceptLanguage renders Languages with descending q-values.
func (p Persona) AcceptLanguage() string {
	if len(p.Languages) == 0 {
		return p.Locale
	}
	parts := make([]string, len(p.Languages))
	for i, lang := range p.Languages {
		if i == 0 {
			parts[i] = lang
			continue
		}
		q := 1.0 - float64(i)/10
		if q < 0.1 {
			q = 0.1
		}
		parts[i] = fmt.Sprintf("%s;q=%.1f", lang, q)
	}
	return strings.Join(parts, ",")
}

// Apply returns the CDP actions that make an automated tab look user operated.
// They must run on a page target before its first navigation.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("platform", p.Platform),
	)

	return chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).
			WithAcceptLanguage(p.AcceptLanguage()).
			WithPlatform(p.Platform),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(EvasionsScript(p)).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": p.AcceptLanguage(),
		}),
	}
}

// EvasionsScript returns the evasions bundle with the persona bound to it.
func EvasionsScript(p Persona) string {
	langs := make([]string, len(p.Languages))
	for i, l := range p.Languages {
		langs[i] = fmt.Sprintf("%q", l)
	}
	return fmt.Sprintf("(() => { const persona = {platform: %q, languages: [%s]};\n%s\n})();",
		p.Platform, strings.Join(langs, ","), evasionsScript)
}
