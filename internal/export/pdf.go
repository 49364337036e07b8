package export

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/tkowalczyk/wabridge/internal/history"
)

// TranscriptRenderer exports a contact's conversation window as a PDF via
// headless Chromium.
type TranscriptRenderer struct {
	chromePath string
}

func NewTranscriptRenderer() *TranscriptRenderer {
	return &TranscriptRenderer{chromePath: detectChromePath()}
}

func (r *TranscriptRenderer) Render(ctx context.Context, contactKey string, entries []history.Entry) ([]byte, error) {
	htmlDoc, err := buildHTML(contactKey, entries)
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			footer := `<div style="width:100%;text-align:center;font-size:9px;color:#666;">` +
				`Page <span class="pageNumber"></span> of <span class="totalPages"></span></div>`
			out, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<div></div>`).
				WithFooterTemplate(footer).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithMarginTop(0.5).
				WithMarginBottom(0.75).
				WithMarginLeft(0.45).
				WithMarginRight(0.45).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, err
	}
	return pdf, nil
}

func buildMarkdown(contactKey string, entries []history.Entry) string {
	var md strings.Builder
	md.WriteString("# Conversation with +" + contactKey + "\n\n")
	for _, e := range entries {
		who := "Contact"
		if e.Role == history.RoleOutbound {
			who = "Me"
		}
		md.WriteString(fmt.Sprintf("**%s** · %s\n\n", who, e.Timestamp.UTC().Format("2006-01-02 15:04")))
		md.WriteString(e.Content + "\n\n---\n\n")
	}
	if len(entries) == 0 {
		md.WriteString("_No messages in the retained window._\n")
	}
	return md.String()
}

func buildHTML(contactKey string, entries []history.Entry) (string, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(buildMarkdown(contactKey, entries)), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}

	return "<!doctype html><html><head><meta charset='utf-8'><title>" +
		html.EscapeString("Transcript +"+contactKey) + "</title>" +
		"<style>" +
		"html,body,*{-webkit-print-color-adjust:exact !important;print-color-adjust:exact !important;} " +
		"body{font-family:-apple-system,'Segoe UI',Roboto,sans-serif;background:#fff;color:#1c1917;max-width:760px;margin:0 auto;padding:0.6rem;} " +
		"h1{font-size:1.25rem;border-bottom:2px solid #92400e;padding-bottom:0.4rem;} " +
		"hr{border:0;border-top:1px solid #e7e5e4;margin:0.6rem 0;} " +
		"strong{color:#78350f;} " +
		"@media print{ @page{size:auto;margin:12mm;} body{padding:0;} }" +
		"</style></head><body>" + content.String() + "</body></html>", nil
}

func detectChromePath() string {
	candidates := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
