package notify

import (
	"bytes"
	"fmt"
	"text/template"
)

type message struct {
	Subject string
	Body    string
}

var subjects = map[Kind]string{
	KindAppointmentConfirmed: "Your consultation is confirmed",
	KindAppointmentCancelled: "Your consultation was cancelled",
	KindAppointmentCompleted: "Thank you for your consultation",
	KindStatusChanged:        "Your consultation was updated",
}

var bodies = template.Must(template.New("notify").Option("missingkey=zero").Parse(`
{{- define "appointment_confirmed" -}}
Hello {{.customer_name}},

Your consultation on "{{.topic}}" is booked for {{.date}} at {{.time}}.
{{- if .meeting_url}}
Join here: {{.meeting_url}}
{{- end}}

Appointment reference: {{.appointment_id}}
{{- end}}

{{- define "appointment_cancelled" -}}
Hello {{.customer_name}},

Your consultation on "{{.topic}}" scheduled for {{.date}} at {{.time}} has been cancelled.
{{- if .reason}}
Reason: {{.reason}}
{{- end}}

Appointment reference: {{.appointment_id}}
{{- end}}

{{- define "appointment_completed" -}}
Hello {{.customer_name}},

Your consultation on "{{.topic}}" on {{.date}} is complete. You can now leave a review.

Appointment reference: {{.appointment_id}}
{{- end}}

{{- define "appointment_status_changed" -}}
Hello {{.customer_name}},

The status of your consultation on {{.date}} at {{.time}} changed from {{.previous_status}} to {{.status}}.

Appointment reference: {{.appointment_id}}
{{- end}}
`))

func render(n Notification) (message, error) {
	subject, ok := subjects[n.Kind]
	if !ok {
		return message{}, fmt.Errorf("%w: %s", ErrUnknownKind, n.Kind)
	}

	var buf bytes.Buffer
	if err := bodies.ExecuteTemplate(&buf, string(n.Kind), n.Payload); err != nil {
		return message{}, fmt.Errorf("render %s: %w", n.Kind, err)
	}

	return message{Subject: subject, Body: buf.String()}, nil
}
