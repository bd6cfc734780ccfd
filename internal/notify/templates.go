package notify

import (
	"bytes"
	"strings"
	"text/template"
	"time"

	"github.com/cockroachdb/errors"
)

// Message is a rendered notification ready for a Dispatcher.
type Message struct {
	Kind    Kind   `json:"kind"`
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Phone   string `json:"phone,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

var funcs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format("02 Jan 2006 15:04 MST")
	},
	"first": func(name string) string {
		if f := strings.Fields(name); len(f) > 0 {
			return f[0]
		}
		return name
	},
}

func mustTemplate(kind Kind, subject, body string) messageTemplate {
	return messageTemplate{
		subject: template.Must(template.New(string(kind) + ".subject").Funcs(funcs).Parse(subject)),
		body:    template.Must(template.New(string(kind) + ".body").Funcs(funcs).Parse(body)),
	}
}

var templates = map[Kind]messageTemplate{
	KindOfferCreated: mustTemplate(KindOfferCreated,
		`Job offer: {{.JobTitle}}{{with .Country}} in {{.}}{{end}}`,
		`Hello {{first .CandidateName}},

You have been offered the position "{{.JobTitle}}" with {{.EmployerName}}{{with .Country}} ({{.}}){{end}}.
The offer is reserved for you until {{date .ExpiresAt}}. Pay the confirmation fee before then to accept it.
If you do nothing the offer passes to the next candidate in the queue and you keep your place.

Workers United
`),
	KindOfferExpired: mustTemplate(KindOfferExpired,
		`Your offer for {{.JobTitle}} has expired`,
		`Hello {{first .CandidateName}},

The offer for "{{.JobTitle}}" with {{.EmployerName}} expired on {{date .ExpiresAt}}.
You are back in the queue at your original position and will be contacted about the next opening.

Workers United
`),
	KindOfferAccepted: mustTemplate(KindOfferAccepted,
		`Welcome aboard: {{.JobTitle}}`,
		`Hello {{first .CandidateName}},

Your place as "{{.JobTitle}}" with {{.EmployerName}} is confirmed. We are preparing your contract and will guide you through the visa process.

Workers United
`),
	KindRefundFlagged: mustTemplate(KindRefundFlagged,
		`Your entry fee refund is under review`,
		`Hello {{first .CandidateName}},

You have waited in the queue for 90 days without a job offer. Under our guarantee your entry fee refund is now being reviewed by our team.

Workers United
`),
}

// Render builds the message for n.
func Render(n Notification) (Message, error) {
	tpl, ok := templates[n.Kind]
	if !ok {
		return Message{}, errors.Newf("no template for notification kind %q", n.Kind)
	}
	if n.Email == "" && n.Phone == "" {
		return Message{}, errors.Newf("candidate %d has no contact", n.CandidateID)
	}

	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, n); err != nil {
		return Message{}, errors.Wrapf(err, "render %s subject", n.Kind)
	}
	if err := tpl.body.Execute(&body, n); err != nil {
		return Message{}, errors.Wrapf(err, "render %s body", n.Kind)
	}

	return Message{
		Kind:    n.Kind,
		To:      n.Email,
		Phone:   n.Phone,
		Subject: strings.TrimSpace(subject.String()),
		Body:    body.String(),
	}, nil
}
