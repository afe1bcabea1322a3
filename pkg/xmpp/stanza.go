// Copyright 2024-2026 Aiku AI

package xmpp

import (
	"encoding/xml"
)

// Presence type attribute values used by the gateway.
const (
	PresenceAvailable   = ""
	PresenceUnavailable = "unavailable"
	PresenceError       = "error"
)

// MUC error conditions the gateway answers joins with.
const (
	ErrCondConflict           = "conflict"
	ErrCondServiceUnavailable = "service-unavailable"
)

// Stanza is a single outbound protocol unit. Every stanza the gateway
// emits implements it so transports and tests can treat them uniformly.
type Stanza interface {
	StanzaName() string
}

// Addressable is implemented by stanzas whose recipient can be rewritten,
// used by the fan-out paths that retarget one stanza per device.
type Addressable interface {
	Stanza
	SetTo(to string)
}

// Message is a chat or groupchat message, optionally carrying an XHTML-IM
// rendering of the body.
type Message struct {
	XMLName xml.Name `xml:"message"`
	From    string   `xml:"from,attr"`
	To      string   `xml:"to,attr"`
	ID      string   `xml:"id,attr,omitempty"`
	Type    string   `xml:"type,attr,omitempty"`
	Body    string   `xml:"body,omitempty"`
	HTML    *XHTML
}

// XHTML is the XEP-0071 XHTML-IM wrapper element.
type XHTML struct {
	XMLName xml.Name  `xml:"http://jabber.org/protocol/xhtml-im html"`
	Body    XHTMLBody `xml:"body"`
}

// XHTMLBody holds already-serialized XHTML markup.
type XHTMLBody struct {
	XMLName xml.Name `xml:"http://www.w3.org/1999/xhtml body"`
	Content string   `xml:",innerxml"`
}

func (m *Message) StanzaName() string { return "message" }
func (m *Message) SetTo(to string)    { m.To = to }

// Clone returns a shallow copy suitable for retargeting without mutating
// the stored original (history replay, relays).
func (m *Message) Clone() *Message {
	cp := *m
	return &cp
}

// MessageSubject announces the current room subject to a single occupant
// or, with an empty recipient, is retargeted per device by the fan-out.
type MessageSubject struct {
	XMLName xml.Name `xml:"message"`
	From    string   `xml:"from,attr"`
	To      string   `xml:"to,attr"`
	ID      string   `xml:"id,attr,omitempty"`
	Type    string   `xml:"type,attr"`
	Subject string   `xml:"subject"`
}

// NewMessageSubject creates a groupchat subject message.
func NewMessageSubject(from, to, subject string) *MessageSubject {
	return &MessageSubject{From: from, To: to, Type: "groupchat", Subject: subject}
}

func (m *MessageSubject) StanzaName() string { return "message-subject" }
func (m *MessageSubject) SetTo(to string)    { m.To = to }

// PresenceItem is a XEP-0045 occupant presence: affiliation, role, the
// optional self-presence marker (status code 110) and availability type.
type PresenceItem struct {
	From        string
	To          string
	ID          string
	Type        string
	Affiliation string
	Role        string
	ItemJID     string
	Self        bool
}

// NewPresenceItem creates an available occupant presence.
func NewPresenceItem(from, to, affiliation, role string) *PresenceItem {
	return &PresenceItem{From: from, To: to, Affiliation: affiliation, Role: role}
}

func (p *PresenceItem) StanzaName() string { return "presence-item" }
func (p *PresenceItem) SetTo(to string)    { p.To = to }

func (p *PresenceItem) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	type statusCode struct {
		Code int `xml:"code,attr"`
	}
	type mucItem struct {
		Affiliation string `xml:"affiliation,attr"`
		Role        string `xml:"role,attr"`
		JID         string `xml:"jid,attr,omitempty"`
	}
	type mucUser struct {
		XMLName xml.Name     `xml:"http://jabber.org/protocol/muc#user x"`
		Item    mucItem      `xml:"item"`
		Status  []statusCode `xml:"status"`
	}
	type presence struct {
		XMLName xml.Name `xml:"presence"`
		From    string   `xml:"from,attr"`
		To      string   `xml:"to,attr"`
		ID      string   `xml:"id,attr,omitempty"`
		Type    string   `xml:"type,attr,omitempty"`
		X       mucUser
	}
	out := presence{
		From: p.From,
		To:   p.To,
		ID:   p.ID,
		Type: p.Type,
		X: mucUser{
			Item: mucItem{Affiliation: p.Affiliation, Role: p.Role, JID: p.ItemJID},
		},
	}
	if p.Self {
		out.X.Status = append(out.X.Status, statusCode{Code: 110})
	}
	return e.Encode(out)
}

// PresenceKick is an involuntary removal: unavailable presence with
// status code 307 and the kicking actor.
type PresenceKick struct {
	From   string
	To     string
	Reason string
	Actor  string
	Self   bool
}

func (p *PresenceKick) StanzaName() string { return "presence-kick" }
func (p *PresenceKick) SetTo(to string)    { p.To = to }

func (p *PresenceKick) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	type statusCode struct {
		Code int `xml:"code,attr"`
	}
	type actor struct {
		Nick string `xml:"nick,attr"`
	}
	type mucItem struct {
		Affiliation string `xml:"affiliation,attr"`
		Role        string `xml:"role,attr"`
		Actor       *actor `xml:"actor"`
		Reason      string `xml:"reason,omitempty"`
	}
	type mucUser struct {
		XMLName xml.Name     `xml:"http://jabber.org/protocol/muc#user x"`
		Item    mucItem      `xml:"item"`
		Status  []statusCode `xml:"status"`
	}
	type presence struct {
		XMLName xml.Name `xml:"presence"`
		From    string   `xml:"from,attr"`
		To      string   `xml:"to,attr"`
		Type    string   `xml:"type,attr"`
		X       mucUser
	}
	out := presence{
		From: p.From,
		To:   p.To,
		Type: PresenceUnavailable,
		X: mucUser{
			Item:   mucItem{Affiliation: "none", Role: "none", Reason: p.Reason},
			Status: []statusCode{{Code: 307}},
		},
	}
	if p.Actor != "" {
		out.X.Item.Actor = &actor{Nick: p.Actor}
	}
	if p.Self {
		out.X.Status = append(out.X.Status, statusCode{Code: 110})
	}
	return e.Encode(out)
}

// PresenceErrorStanza answers a failed join with a protocol-level error
// reply naming the target room.
type PresenceErrorStanza struct {
	From      string
	To        string
	ID        string
	By        string
	ErrType   string
	Condition string
}

// NewPresenceError creates a cancel-type presence error with the given
// defined condition (conflict, service-unavailable, ...).
func NewPresenceError(from, to, id, by, condition string) *PresenceErrorStanza {
	return &PresenceErrorStanza{From: from, To: to, ID: id, By: by, ErrType: "cancel", Condition: condition}
}

func (p *PresenceErrorStanza) StanzaName() string { return "presence-error" }
func (p *PresenceErrorStanza) SetTo(to string)    { p.To = to }

func (p *PresenceErrorStanza) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	type condition struct {
		XMLName xml.Name
	}
	type stanzaError struct {
		XMLName   xml.Name `xml:"error"`
		Type      string   `xml:"type,attr"`
		By        string   `xml:"by,attr,omitempty"`
		Condition condition
	}
	type presence struct {
		XMLName xml.Name `xml:"presence"`
		From    string   `xml:"from,attr"`
		To      string   `xml:"to,attr"`
		ID      string   `xml:"id,attr,omitempty"`
		Type    string   `xml:"type,attr"`
		Error   stanzaError
	}
	out := presence{
		From: p.From,
		To:   p.To,
		ID:   p.ID,
		Type: PresenceError,
		Error: stanzaError{
			Type: p.ErrType,
			By:   p.By,
			Condition: condition{
				XMLName: xml.Name{Space: "urn:ietf:params:xml:ns:xmpp-stanzas", Local: p.Condition},
			},
		},
	}
	return e.Encode(out)
}
