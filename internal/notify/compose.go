package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"
)

// Kind identifies an account email.
type Kind string

const (
	KindWelcome         Kind = "welcome"
	KindPasswordChanged Kind = "password_changed"
	KindPasswordReset   Kind = "password_reset"
)

// Message is a rendered email ready for a Mailer.
type Message struct {
	Kind     Kind
	To       string
	Subject  string
	HTMLBody string
}

//go:embed templates/*.html
var templateFS embed.FS

var subjects = map[Kind]string{
	KindWelcome:         "Welcome! Your Account Credentials",
	KindPasswordChanged: "Your Password Has Been Changed",
	KindPasswordReset:   "Password Reset - Temporary Password Provided",
}

type templateData struct {
	Email             string
	TemporaryPassword string
	ChangePasswordURL string
	When              string
}

// Composer renders account emails.
type Composer struct {
	baseURL string
	tmpl    *template.Template
	now     func() time.Time
}

// NewComposer parses the embedded templates. baseURL is the web app root used
// for change-password links.
func NewComposer(baseURL string) (*Composer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("notify: parse templates: %w", err)
	}
	return &Composer{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		tmpl:    tmpl,
		now:     time.Now,
	}, nil
}

// ChangePasswordURL returns the web app link for email.
func (c *Composer) ChangePasswordURL(email string) string {
	return c.baseURL + "/users/change-password?email=" + url.QueryEscape(email)
}

// Compose renders the message of the given kind for email.
func (c *Composer) Compose(kind Kind, email, temporaryPassword string) (Message, error) {
	subject, ok := subjects[kind]
	if !ok {
		return Message{}, fmt.Errorf("notify: unknown message kind %q", kind)
	}
	data := templateData{
		Email:             email,
		TemporaryPassword: temporaryPassword,
		ChangePasswordURL: c.ChangePasswordURL(email),
		When:              c.now().UTC().Format("2006-01-02 15:04:05 MST"),
	}
	var buf bytes.Buffer
	if err := c.tmpl.ExecuteTemplate(&buf, string(kind)+".html", data); err != nil {
		return Message{}, fmt.Errorf("notify: render %s: %w", kind, err)
	}
	return Message{Kind: kind, To: email, Subject: subject, HTMLBody: buf.String()}, nil
}
