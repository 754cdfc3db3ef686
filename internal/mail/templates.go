package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/thatmoment/server/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type layout struct {
	subject  string
	template string
}

var layouts = map[model.CodePurpose]layout{
	model.PurposeEmailVerify: {subject: "ThatMoment - Email Doğrulama", template: "email_verify.html"},
	model.PurposeLoginOTP:    {subject: "ThatMoment - Giriş Kodu", template: "login_otp.html"},
}

var genericLayout = layout{subject: "ThatMoment - Doğrulama Kodu", template: "generic_code.html"}

// Renderer turns a code into a subject and HTML body
type Renderer struct {
	Product string
	TTLs    map[model.CodePurpose]time.Duration
}

// Render picks the layout for purpose; unknown purposes get the generic one
func (r Renderer) Render(purpose model.CodePurpose, code string) (subject, body string, err error) {
	l, ok := layouts[purpose]
	if !ok {
		l = genericLayout
	}

	var buf bytes.Buffer
	err = pages.ExecuteTemplate(&buf, l.template, struct {
		Product string
		Code    string
		Minutes int
	}{
		Product: r.Product,
		Code:    code,
		Minutes: int(r.TTLs[purpose].Minutes()),
	})
	if err != nil {
		return "", "", fmt.Errorf("render %s email: %w", purpose, err)
	}
	return l.subject, buf.String(), nil
}
