package mailer

import (
	"bytes"
	"html/template"
)

var (
	licenseTmpl = template.Must(template.New("license").Parse(`<h1>License Purchase Confirmation</h1>
<p>Dear user,</p>
<p>Thank you for purchasing a license. Your license key is:</p>
<p><strong>{{.Key}}</strong></p>
<p>Please activate it in your application to start using it.</p>`))

	confirmTmpl = template.Must(template.New("confirm").Parse(`<h1>Welcome{{if .Name}}, {{.Name}}{{end}}!</h1>
<p>Please confirm your email address by following this link:</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
{{if .Key}}<p>Your free license key is <strong>{{.Key}}</strong>.</p>{{end}}`))

	resetTmpl = template.Must(template.New("reset").Parse(`<h1>Password reset</h1>
<p>A password reset was requested for your account. The link below is valid for {{.Validity}}:</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p>If you did not request this, you can ignore this email.</p>`))
)

func render(t *template.Template, data interface{}) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return ""
	}
	return buf.String()
}

func LicenseKeyEmail(key string) (subject, html string) {
	return "Your License Key", render(licenseTmpl, struct{ Key string }{key})
}

func ConfirmationEmail(name, link, freeKey string) (subject, html string) {
	return "Confirm your email", render(confirmTmpl, struct{ Name, Link, Key string }{name, link, freeKey})
}

func PasswordResetEmail(link, validity string) (subject, html string) {
	return "Password reset", render(resetTmpl, struct{ Link, Validity string }{link, validity})
}
