// Copyright 2024-2026 Aiku AI

package gateway

import (
	"github.com/aiku/mautrix-xmpp/pkg/gateway/xmppfmt"
)

// defaultFormatter adapts the built-in xmppfmt converter to the
// Formatter interface.
type defaultFormatter struct{}

func (defaultFormatter) ToXHTML(html string) string {
	return xmppfmt.HTMLToXHTML(html)
}
