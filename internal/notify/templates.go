// Package notify turns application events (registrations, payments, ticket
// scans) into WhatsApp messages and keeps a dead-letter table for sends that
// failed.
package notify

import (
	"errors"
	"sort"
	"strings"
)

// Events the registration site fires.
const (
	EventRegistrationCreated  = "registration.created"
	EventPaymentStatusChanged = "payment.status_changed"
	EventTicketScanned        = "ticket.scanned"
)

// ErrUnknownEvent is returned for an event with no template.
var ErrUnknownEvent = errors.New("notify: unknown event")

// DefaultTemplates holds the Indonesian message bodies. Placeholders take the
// form {{.Key}} and are filled from the event data.
var DefaultTemplates = map[string]string{
	EventRegistrationCreated: "Halo {{.Name}}, terima kasih telah mendaftar {{.Category}}. " +
		"Kode registrasi Anda: {{.Code}}. Silakan selesaikan pembayaran untuk mengamankan slot Anda.",
	EventPaymentStatusChanged: "Halo {{.Name}}, status pembayaran untuk registrasi {{.Code}} " +
		"sekarang: {{.Status}}.",
	EventTicketScanned: "Halo {{.Name}}, tiket {{.Code}} telah dipindai pada {{.ScannedAt}}. " +
		"Selamat berlari!",
}

// Render replaces every {{.Key}} in tmpl with data[Key]. Placeholders with
// no matching key are left as they are.
func Render(tmpl string, data map[string]string) string {
	if len(data) == 0 {
		return tmpl
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{{."+k+"}}", data[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// mergeTemplates overlays overrides on the defaults. An empty override
// removes nothing; it is ignored.
func mergeTemplates(overrides map[string]string) map[string]string {
	out := make(map[string]string, len(DefaultTemplates)+len(overrides))
	for k, v := range DefaultTemplates {
		out[k] = v
	}
	for k, v := range overrides {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out[k] = v
	}
	return out
}
