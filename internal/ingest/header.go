package ingest

import (
	"fmt"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
)

// Kind identifies the semantic kind of a header value.
type Kind int

const (
	KindAddress Kind = iota
	KindText
	KindContentType
	KindDateTime
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindAddress:
		return "address"
	case KindText:
		return "text"
	case KindContentType:
		return "content-type"
	case KindDateTime:
		return "datetime"
	default:
		return "other"
	}
}

// HeaderValue is a typed header value. Each kind has its own rendering rule.
type HeaderValue interface {
	Kind() Kind
	String() string
}

// Address is a single mailbox from an address-typed header.
type Address struct {
	Name    string
	Address string
}

// AddressValue renders as `Name&lt;addr&gt;` entries joined by ", ".
type AddressValue []Address

func (AddressValue) Kind() Kind { return KindAddress }

func (v AddressValue) String() string {
	parts := make([]string, 0, len(v))
	for _, a := range v {
		parts = append(parts, strings.TrimSpace(a.Name+"&lt;"+a.Address+"&gt;"))
	}
	return strings.Join(parts, ", ")
}

// TextValue is free text, rendered verbatim.
type TextValue string

func (TextValue) Kind() Kind { return KindText }

func (v TextValue) String() string { return string(v) }

// Param is one parameter of a content-type-like header.
type Param struct {
	Name  string
	Value string
}

// ContentTypeValue renders as `type/subtype; name=value; ...`. Subtype is
// empty for Content-Disposition.
type ContentTypeValue struct {
	Type    string
	Subtype string
	Params  []Param
}

func (ContentTypeValue) Kind() Kind { return KindContentType }

func (v ContentTypeValue) String() string {
	var b strings.Builder
	b.WriteString(v.Type)
	if v.Subtype != "" {
		b.WriteString("/")
		b.WriteString(v.Subtype)
	}
	for _, p := range v.Params {
		b.WriteString("; ")
		b.WriteString(p.Name)
		b.WriteString("=")
		b.WriteString(p.Value)
	}
	return b.String()
}

// DateTimeValue renders in RFC 3339.
type DateTimeValue time.Time

func (DateTimeValue) Kind() Kind { return KindDateTime }

func (v DateTimeValue) String() string { return time.Time(v).Format(time.RFC3339) }

// OtherValue holds any structured value without a dedicated rule.
type OtherValue struct {
	V any
}

func (OtherValue) Kind() Kind { return KindOther }

func (v OtherValue) String() string { return fmt.Sprintf("%v", v.V) }

var headerKinds = map[string]Kind{
	"From":          KindAddress,
	"To":            KindAddress,
	"Cc":            KindAddress,
	"Bcc":           KindAddress,
	"Reply-To":      KindAddress,
	"Sender":        KindAddress,
	"Resent-From":   KindAddress,
	"Resent-To":     KindAddress,
	"Resent-Cc":     KindAddress,
	"Resent-Bcc":    KindAddress,
	"Resent-Sender": KindAddress,

	"Content-Type":        KindContentType,
	"Content-Disposition": KindContentType,

	"Date":        KindDateTime,
	"Resent-Date": KindDateTime,

	"References":  KindOther,
	"In-Reply-To": KindOther,
}

// ParseHeaderValue interprets a header field by its name. raw is the
// undecoded field value and text its RFC 2047 decoded form. Values that do
// not parse as their expected kind degrade to TextValue.
func ParseHeaderValue(name, raw, text string) HeaderValue {
	key := textproto.CanonicalMIMEHeaderKey(name)

	switch headerKinds[key] {
	case KindAddress:
		list, err := gomail.ParseAddressList(raw)
		if err != nil {
			break
		}
		v := make(AddressValue, 0, len(list))
		for _, a := range list {
			v = append(v, Address{Name: a.Name, Address: a.Address})
		}
		return v

	case KindContentType:
		var h message.Header
		h.Set(key, raw)
		var (
			t      string
			params map[string]string
			err    error
		)
		if key == "Content-Disposition" {
			t, params, err = h.ContentDisposition()
		} else {
			t, params, err = h.ContentType()
		}
		if err != nil {
			break
		}
		return newContentTypeValue(t, params)

	case KindDateTime:
		var h gomail.Header
		h.Set("Date", raw)
		d, err := h.Date()
		if err != nil {
			break
		}
		return DateTimeValue(d)

	case KindOther:
		var h gomail.Header
		h.Set(key, raw)
		ids, err := h.MsgIDList(key)
		if err != nil {
			break
		}
		return OtherValue{V: ids}
	}

	return TextValue(text)
}

func newContentTypeValue(t string, params map[string]string) ContentTypeValue {
	v := ContentTypeValue{Type: t}
	if typ, sub, ok := strings.Cut(t, "/"); ok {
		v.Type, v.Subtype = typ, sub
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v.Params = append(v.Params, Param{Name: name, Value: params[name]})
	}
	return v
}

// standardNames spells well-known fields by convention, keyed by their
// canonical MIME form.
var standardNames = func() map[string]string {
	names := []string{
		"Return-Path", "Received", "Date", "From", "Sender", "Reply-To",
		"To", "Cc", "Bcc", "Message-ID", "In-Reply-To", "References",
		"Subject", "Comments", "Keywords", "MIME-Version",
		"Content-Type", "Content-Transfer-Encoding", "Content-Disposition",
		"Content-ID", "Content-Description", "Content-Language", "Content-Location",
		"Resent-Date", "Resent-From", "Resent-Sender", "Resent-To",
		"Resent-Cc", "Resent-Bcc", "Resent-Message-ID",
		"List-Id", "List-Archive", "List-Help", "List-Owner", "List-Post",
		"List-Subscribe", "List-Unsubscribe",
	}
	m := make(map[string]string, len(names))
	for _, n := range names {
		m[textproto.CanonicalMIMEHeaderKey(n)] = n
	}
	return m
}()

// HeaderName normalizes the spelling of well-known field names and keeps
// any other name as written.
func HeaderName(name string) string {
	if std, ok := standardNames[textproto.CanonicalMIMEHeaderKey(name)]; ok {
		return std
	}
	return name
}

// headerMap stringifies every field of h. The last field with a given
// name wins.
func headerMap(h message.Header) map[string]string {
	out := make(map[string]string, h.Len())
	fields := h.Fields()
	for fields.Next() {
		raw := fields.Value()
		text, err := fields.Text()
		if err != nil {
			text = raw
		}
		key := HeaderName(writtenName(fields))
		out[key] = ParseHeaderValue(key, raw, text).String()
	}
	return out
}

// writtenName recovers the field name as it appeared on the wire. The
// header reader only exposes canonicalized keys.
func writtenName(fields message.HeaderFields) string {
	b, err := fields.Raw()
	if err != nil {
		return fields.Key()
	}
	name, _, ok := strings.Cut(string(b), ":")
	if !ok || strings.TrimSpace(name) == "" {
		return fields.Key()
	}
	return strings.TrimSpace(name)
}
