// Package push turns push payloads into displayed notifications and routes
// notification clicks back to a page window.
package push

import (
	"bytes"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/k3a/html2text"

	"github.com/heavystatus/newsroom-edge/internal/conf"
	"github.com/heavystatus/newsroom-edge/internal/protocol"
)

// Descriptor is a notification ready to display.
type Descriptor = protocol.Notification

// ParsePayload builds a descriptor from raw. A JSON object supplies title,
// body (or alert), icon, badge, tag and url (or launchUrl); a JSON string
// is the body. Anything that is not JSON becomes the body verbatim. Missing
// fields take the defaults. Parsing never fails.
func ParsePayload(raw []byte, defaults conf.NotificationDefaults, now time.Time) Descriptor {
	d := Descriptor{
		Title:     defaults.Title,
		Body:      defaults.Body,
		Icon:      defaults.Icon,
		Badge:     defaults.Badge,
		Tag:       defaults.Tag,
		URL:       defaults.URL,
		Timestamp: now,
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return d
	}

	value, err := jason.NewValueFromBytes(trimmed)
	if err != nil {
		d.Body = plainText(string(raw))
		return d
	}
	if s, err := value.String(); err == nil {
		if s = plainText(s); s != "" {
			d.Body = s
		}
		return d
	}
	obj, err := value.Object()
	if err != nil {
		// Numbers, arrays and booleans carry nothing displayable.
		d.Body = plainText(string(trimmed))
		return d
	}

	d.Title = firstString(obj, d.Title, "title")
	d.Body = plainText(firstString(obj, d.Body, "body", "alert"))
	d.Icon = firstString(obj, d.Icon, "icon")
	d.Badge = firstString(obj, d.Badge, "badge")
	d.Tag = firstString(obj, d.Tag, "tag")
	d.URL = firstString(obj, d.URL, "url", "launchUrl")
	if ts, err := obj.GetInt64("timestamp"); err == nil && ts > 0 {
		d.Timestamp = time.UnixMilli(ts)
	}
	return d
}

// firstString returns the first non-empty string among keys, else def.
func firstString(obj *jason.Object, def string, keys ...string) string {
	for _, k := range keys {
		if s, err := obj.GetString(k); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return def
}

// plainText flattens HTML bodies that CMS editors paste into alerts.
func plainText(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "<") && strings.Contains(s, ">") {
		return strings.TrimSpace(html2text.HTML2Text(s))
	}
	return s
}
