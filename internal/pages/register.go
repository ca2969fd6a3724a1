package pages

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	regFirstName       = XPath("//input[@id='firstname']")
	regLastName        = XPath("//input[@id='lastname']")
	regUsername        = XPath("//input[@id='username']")
	regPassword        = XPath("//input[@id='password']")
	regConfirmPassword = XPath("//input[@id='confirm_password']")
	regSubmit          = XPath("//button[text()='Sign Up']")
	regMismatchHint    = ID("confirm_pass")
)

// Registration is the sign-up form.
type Registration struct {
	FirstName       string
	LastName        string
	Username        string
	Password        string
	ConfirmPassword string
}

// RegisterPage is /register.
type RegisterPage struct {
	*Base
}

func (*RegisterPage) Kind() Kind { return KindRegister }

// OpenRegister navigates to /register directly.
func OpenRegister(b *Base) (*RegisterPage, error) {
	if err := b.Navigate("/register"); err != nil {
		return nil, err
	}
	return NewRegisterPage(b)
}

// OpenRegisterFromNav follows the nav bar link whose href mentions register.
func OpenRegisterFromNav(b *Base) (*RegisterPage, error) {
	hrefs, err := b.NavLinks()
	if err != nil {
		return nil, err
	}
	for i, href := range hrefs {
		if strings.Contains(href, "register") {
			if err := b.ClickNthAndWait(navLinks, i); err != nil {
				return nil, err
			}
			return NewRegisterPage(b)
		}
	}
	return nil, b.notFound(XPath("//nav/a[contains(@href, 'register')]"), nil)
}

// NewRegisterPage verifies the browser shows the sign-up form.
func NewRegisterPage(b *Base) (*RegisterPage, error) {
	if err := b.expectLanding(KindRegister, "/register", regSubmit); err != nil {
		return nil, err
	}
	return &RegisterPage{Base: b}, nil
}

// SubmitRegistration fills and submits the form. The site signs a new
// account in and shows the dashboard; a rejected form comes back as the
// register page.
func (p *RegisterPage) SubmitRegistration(r Registration) (Page, error) {
	fields := []struct {
		loc   Locator
		value string
	}{
		{regFirstName, r.FirstName},
		{regLastName, r.LastName},
		{regUsername, r.Username},
		{regPassword, r.Password},
		{regConfirmPassword, r.ConfirmPassword},
	}
	for _, f := range fields {
		if err := p.Type(f.loc, f.value); err != nil {
			return nil, err
		}
	}
	if err := p.ClickAndWait(regSubmit); err != nil {
		return nil, fmt.Errorf("submit registration for %q: %w", r.Username, err)
	}
	if p.IsPresentNow(regSubmit) {
		return NewRegisterPage(p.Base)
	}
	return NewDashboardPage(p.Base)
}

// ErrorMessage returns the danger alert, e.g. for a taken username.
func (p *RegisterPage) ErrorMessage() (string, error) {
	return p.DangerAlert()
}

// PasswordMismatch returns the confirm-password hint and its color in
// rgba(r, g, b, a) form.
func (p *RegisterPage) PasswordMismatch() (text, color string, err error) {
	text, err = p.GetText(regMismatchHint)
	if err != nil {
		return "", "", err
	}
	raw, err := p.CSSValue(regMismatchHint, "color")
	if err != nil {
		return "", "", err
	}
	return text, NormalizeColor(raw), nil
}

var colorFunc = regexp.MustCompile(`^rgba?\(\s*([^)]*)\)$`)

// NormalizeColor rewrites a computed rgb() or rgba() color as
// "rgba(r, g, b, a)". Anything else is returned trimmed and unchanged.
func NormalizeColor(c string) string {
	c = strings.TrimSpace(c)
	m := colorFunc.FindStringSubmatch(c)
	if m == nil {
		return c
	}
	parts := strings.FieldsFunc(m[1], func(r rune) bool { return r == ',' || r == ' ' || r == '/' })
	if len(parts) != 3 && len(parts) != 4 {
		return c
	}
	channels := make([]string, 0, 4)
	for _, part := range parts[:3] {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return c
		}
		channels = append(channels, strconv.Itoa(n))
	}
	alpha := "1"
	if len(parts) == 4 {
		a, err := strconv.ParseFloat(parts[3], 64)
		if err != nil || a < 0 || a > 1 {
			return c
		}
		alpha = strconv.FormatFloat(a, 'f', -1, 64)
	}
	channels = append(channels, alpha)
	return "rgba(" + strings.Join(channels, ", ") + ")"
}
