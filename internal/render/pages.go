package render

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/axellelanca/linkcloak/internal/handshake"
	"github.com/axellelanca/linkcloak/internal/models"
)

// htmlWriter keeps the first write error so components read top to bottom.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) raw(parts ...string) {
	for _, p := range parts {
		if h.err != nil {
			return
		}
		_, h.err = io.WriteString(h.w, p)
	}
}

func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *htmlWriter) meta(attr, key, value string) {
	if value == "" {
		return
	}
	h.raw(`<meta `, attr, `="`, templ.EscapeString(key), `" content="`, templ.EscapeString(value), `">`)
}

func (h *htmlWriter) component(ctx context.Context, c templ.Component) {
	if h.err != nil || c == nil {
		return
	}
	h.err = c.Render(ctx, h.w)
}

func layout(title string, head, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`,
			`<meta name="viewport" content="width=device-width, initial-scale=1"><title>`)
		h.text(title)
		h.raw(`</title>`)
		h.component(ctx, head)
		h.raw(`</head><body>`)
		h.component(ctx, body)
		h.raw(`</body></html>`)
		return h.err
	})
}

// jsString encodes s as a JavaScript string literal safe inside a script element.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func titleOf(link *models.Link) string {
	if strings.TrimSpace(link.Title) != "" {
		return link.Title
	}
	return link.Slug
}

// PreviewPage is served to link-preview crawlers: Open Graph and Twitter card
// metadata, no redirect.
func PreviewPage(link *models.Link, canonicalURL string) templ.Component {
	title := titleOf(link)
	head := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.meta("name", "description", link.Description)
		h.meta("property", "og:type", "article")
		h.meta("property", "og:title", title)
		h.meta("property", "og:description", link.Description)
		h.meta("property", "og:image", link.ImageURL)
		h.meta("property", "og:url", canonicalURL)
		card := "summary"
		if link.ImageURL != "" {
			card = "summary_large_image"
		}
		h.meta("name", "twitter:card", card)
		h.meta("name", "twitter:title", title)
		h.meta("name", "twitter:description", link.Description)
		h.meta("name", "twitter:image", link.ImageURL)
		return h.err
	})
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<main><h1>`)
		h.text(title)
		h.raw(`</h1>`)
		if link.ImageURL != "" {
			h.raw(`<img src="`, templ.EscapeString(string(templ.URL(link.ImageURL))), `" alt="`)
			h.text(title)
			h.raw(`">`)
		}
		if link.Description != "" {
			h.raw(`<p>`)
			h.text(link.Description)
			h.raw(`</p>`)
		}
		h.raw(`</main>`)
		return h.err
	})
	return layout(title, head, body)
}

// ArticlePage is served to humans. contentHTML must already be sanitized;
// the page forwards to the target through a meta refresh and a script.
func ArticlePage(link *models.Link, contentHTML string) templ.Component {
	title := titleOf(link)
	target := string(templ.URL(link.TargetURL))
	head := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<meta name="robots" content="noindex, nofollow">`)
		h.raw(`<meta http-equiv="refresh" content="0;url=`, templ.EscapeString(target), `">`)
		return h.err
	})
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<article><h1>`)
		h.text(title)
		h.raw(`</h1>`)
		if contentHTML != "" {
			h.raw(`<div class="content">`, contentHTML, `</div>`)
		} else if link.Description != "" {
			h.raw(`<p>`)
			h.text(link.Description)
			h.raw(`</p>`)
		}
		h.raw(`<p><a rel="nofollow noopener" href="`, templ.EscapeString(target), `">Continue</a></p></article>`)
		h.raw(`<script>window.location.replace(`, jsString(target), `);</script>`)
		return h.err
	})
	return layout(title, head, body)
}

func messagePage(title, heading, text string) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<main><h1>`)
		h.text(heading)
		h.raw(`</h1><p>`)
		h.text(text)
		h.raw(`</p></main>`)
		return h.err
	})
	return layout(title, nil, body)
}

// NotFoundPage is served for unknown slugs.
func NotFoundPage(slug string) templ.Component {
	return messagePage("Link not found", "Link not found",
		fmt.Sprintf("There is no link at /%s. Check the address and try again.", slug))
}

// GonePage is served for inactive or expired links.
func GonePage(slug string) templ.Component {
	return messagePage("Link no longer available", "This offer has ended",
		fmt.Sprintf("The link /%s has expired or was turned off.", slug))
}

// ErrorPage is the generic 500 page.
func ErrorPage(requestID string) templ.Component {
	text := "Something went wrong on our side. Please try again in a moment."
	if requestID != "" {
		text += " Reference: " + requestID
	}
	return messagePage("Error", "Something went wrong", text)
}

// ExtensionAuthPage is the browser side of the extension handshake. Without a
// code it renders the failed state and ships no script, so nothing is sent.
func ExtensionAuthPage(code string, timeout time.Duration, countdown int) templ.Component {
	if code == "" {
		return extensionPage("failed", handshake.MissingCodeText, nil)
	}
	script := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<script>(function(){`,
			`var code=`, jsString(code), `,REQ=`, jsString(handshake.RequestType), `,RES=`, jsString(handshake.ResultType), `;`,
			`var TIMEOUT_TEXT=`, jsString(handshake.TimeoutText), `,SUCCESS_TEXT=`, jsString(handshake.SuccessText), `,FAILURE_TEXT=`, jsString(handshake.FailureText), `;`,
			`var ticks=`, fmt.Sprint(countdown), `,state="pending",status=document.getElementById("status");`,
			`function show(s,t){document.body.setAttribute("data-state",s);status.textContent=t;}`,
			`function finish(s,t){if(state!=="pending")return false;state=s;clearTimeout(timer);window.removeEventListener("message",onMessage);show(s,t);return true;}`,
			`function countdown(){var n=ticks;var tick=function(){show("succeeded",SUCCESS_TEXT.replace("%d",n));};tick();`,
			`var iv=setInterval(function(){n--;if(n<=0){clearInterval(iv);window.close();return;}tick();},1000);}`,
			`function onMessage(ev){if(ev.source!==window)return;var m=ev.data;if(!m||m.type!==RES)return;`,
			`if(m.success===true){if(finish("succeeded",SUCCESS_TEXT.replace("%d",ticks)))countdown();return;}`,
			`var e=(typeof m.error==="string"&&m.error)?" "+m.error.replace(/\.$/,"")+".":"";`,
			`finish("failed",FAILURE_TEXT+e+" Reload this page to try again.");}`,
			`window.addEventListener("message",onMessage);`,
			`var timer=setTimeout(function(){finish("timed-out",TIMEOUT_TEXT);},`, fmt.Sprint(timeout.Milliseconds()), `);`,
			`window.addEventListener("pagehide",function(){clearTimeout(timer);window.removeEventListener("message",onMessage);});`,
			`window.postMessage({type:REQ,code:code},window.location.origin);`,
			`})();</script>`)
		return h.err
	})
	return extensionPage("pending", handshake.PendingText, script)
}

func extensionPage(state, text string, script templ.Component) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<main data-state="`, templ.EscapeString(state), `"><h1>Connect the extension</h1><p id="status" role="status">`)
		h.text(text)
		h.raw(`</p></main>`)
		h.component(ctx, script)
		return h.err
	})
	return layout("Connect the extension", nil, body)
}
