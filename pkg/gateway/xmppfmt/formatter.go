// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package xmppfmt converts Matrix HTML to XEP-0071 XHTML-IM.
package xmppfmt

import (
	"html"
	"regexp"
	"strings"

	"maunium.net/go/mautrix/event"
)

var (
	mxReplyRe  = regexp.MustCompile(`(?s)<mx-reply>.*?</mx-reply>`)
	bRe        = regexp.MustCompile(`<(/?)b>`)
	iRe        = regexp.MustCompile(`<(/?)i>`)
	strikeRe   = regexp.MustCompile(`<(/?)(?:strike|s)>`)
	uRe        = regexp.MustCompile(`<(/?)u>`)
	brRe       = regexp.MustCompile(`<br\s*>`)
	imgNoClose = regexp.MustCompile(`<img([^>]*[^/>])>`)
	fontRe     = regexp.MustCompile(`</?font[^>]*>`)
	headingRe  = regexp.MustCompile(`<(/?)h[1-6]>`)
	spoilerRe  = regexp.MustCompile(`<span data-mx-spoiler[^>]*>(.*?)</span>`)
)

// HTMLToXHTML normalizes a Matrix HTML body into markup acceptable
// inside an XHTML-IM body element: well-formed empty elements, no
// Matrix-only wrappers, and the presentational tags XHTML-IM clients
// understand.
func HTMLToXHTML(body string) string {
	text := body

	// Matrix reply fallback is not part of the message body.
	text = mxReplyRe.ReplaceAllString(text, "")

	// Presentational aliases.
	text = bRe.ReplaceAllString(text, "<${1}strong>")
	text = iRe.ReplaceAllString(text, "<${1}em>")
	text = strikeRe.ReplaceAllString(text, "<${1}span>")
	text = uRe.ReplaceAllString(text, "<${1}span>")
	text = headingRe.ReplaceAllString(text, "<${1}strong>")
	text = spoilerRe.ReplaceAllString(text, "$1")
	text = fontRe.ReplaceAllString(text, "")

	// XHTML requires empty elements to be self-closed.
	text = brRe.ReplaceAllString(text, "<br/>")
	text = imgNoClose.ReplaceAllString(text, "<img$1/>")

	return strings.TrimSpace(text)
}

// Parse converts Matrix message content to an XHTML-IM body. Plain-text
// content is escaped and newline-converted.
func Parse(content *event.MessageEventContent) string {
	if content == nil {
		return ""
	}
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		escaped := html.EscapeString(content.Body)
		return strings.ReplaceAll(escaped, "\n", "<br/>")
	}
	return HTMLToXHTML(content.FormattedBody)
}
