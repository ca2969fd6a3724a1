package pages

import (
	"fmt"
)

var (
	loginUsername = XPath("//div/input[@id='username']")
	loginPassword = XPath("//div/input[@id='password']")
	loginSubmit   = XPath("//form/button[@type='submit']")
)

// LoginPage is /login.
type LoginPage struct {
	*Base
}

func (*LoginPage) Kind() Kind { return KindLogin }

// OpenLogin navigates to /login.
func OpenLogin(b *Base) (*LoginPage, error) {
	if err := b.Navigate("/login"); err != nil {
		return nil, err
	}
	return NewLoginPage(b)
}

// NewLoginPage verifies the browser shows the login form.
func NewLoginPage(b *Base) (*LoginPage, error) {
	if err := b.expectLanding(KindLogin, "/login", loginSubmit); err != nil {
		return nil, err
	}
	return &LoginPage{Base: b}, nil
}

// Login submits credentials. Accepted credentials land on the dashboard;
// rejected ones stay on the login page with a danger alert, which is not an
// error.
func (p *LoginPage) Login(username, password string) (Page, error) {
	if err := p.Type(loginUsername, username); err != nil {
		return nil, err
	}
	if err := p.Type(loginPassword, password); err != nil {
		return nil, err
	}
	if err := p.ClickAndWait(loginSubmit); err != nil {
		return nil, fmt.Errorf("submit login for %q: %w", username, err)
	}
	if p.IsPresentNow(loginSubmit) {
		p.log.Debug("login_rejected", "username", username)
		return NewLoginPage(p.Base)
	}
	return NewDashboardPage(p.Base)
}

// FailureMessage returns the danger alert shown after rejected credentials.
func (p *LoginPage) FailureMessage() (string, error) {
	return p.DangerAlert()
}
