package pages

import (
	"fmt"

	"github.com/kuitang/carsphere-qa/internal/errs"
)

// Kind tags which page a Page value holds.
type Kind int

const (
	KindUnknown Kind = iota
	KindDashboard
	KindLogin
	KindRegister
	KindAddCar
	KindGallery
	KindAdmin
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindDashboard:
		return "dashboard"
	case KindLogin:
		return "login"
	case KindRegister:
		return "register"
	case KindAddCar:
		return "add_car"
	case KindGallery:
		return "gallery"
	case KindAdmin:
		return "admin"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Page is the result of an action that may move the browser. The concrete
// type is one of the page objects in this package; Kind says which.
type Page interface {
	Kind() Kind
	// base seals the interface to this package's page objects.
	base() *Base
}

func (b *Base) base() *Base { return b }

func wrongPage(want Kind, got Page) error {
	if got == nil {
		return errs.New(errs.AssertionFailed, fmt.Sprintf("expected the %s page, got no page", want))
	}
	return errs.New(errs.AssertionFailed, fmt.Sprintf("expected the %s page, browser is on the %s page (%s)", want, got.Kind(), got.base().URL()))
}

// AsDashboard narrows p to the dashboard or reports which page it is instead.
func AsDashboard(p Page) (*DashboardPage, error) {
	if d, ok := p.(*DashboardPage); ok {
		return d, nil
	}
	return nil, wrongPage(KindDashboard, p)
}

// AsLogin narrows p to the login page.
func AsLogin(p Page) (*LoginPage, error) {
	if l, ok := p.(*LoginPage); ok {
		return l, nil
	}
	return nil, wrongPage(KindLogin, p)
}

// AsRegister narrows p to the registration page.
func AsRegister(p Page) (*RegisterPage, error) {
	if r, ok := p.(*RegisterPage); ok {
		return r, nil
	}
	return nil, wrongPage(KindRegister, p)
}
