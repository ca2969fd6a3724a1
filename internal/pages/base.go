// Package pages holds the CarSphere page objects and the Base page they are
// built on. Page objects never call Playwright directly; every element
// interaction goes through Base, which bounds it by the session timeout and
// translates failures into errs codes with locator and page context.
package pages

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/carsphere-qa/internal/browser"
	"github.com/kuitang/carsphere-qa/internal/errs"
)

const pollInterval = 50 * time.Millisecond

// Shared alert and navigation locators.
var (
	successAlert  = CSS(".alert.alert-success")
	dangerAlert   = CSS(".alert.alert-danger")
	signOutLink   = XPath("//a[contains(text(), 'Sign Out')]")
	currentUser   = ID("current-user")
	navLinks      = XPath("//nav/a")
	navigationTag = "__carsphereNavPending"
)

// Base wraps one browser session. It is not safe for concurrent use.
type Base struct {
	s   *browser.Session
	log *slog.Logger
}

// NewBase returns a Base driving s.
func NewBase(s *browser.Session) *Base {
	return &Base{s: s, log: s.Logger().With("pkg", "pages")}
}

// Session returns the underlying browser session.
func (b *Base) Session() *browser.Session {
	return b.s
}

func (b *Base) page() playwright.Page {
	return b.s.Page
}

func (b *Base) timeoutMS() *float64 {
	return playwright.Float(b.s.TimeoutMS())
}

func (b *Base) notFound(loc Locator, cause error) error {
	return errs.Wrap(errs.ElementNotFound,
		fmt.Sprintf("element %s not visible within %s on %s", loc, b.s.Timeout, b.URL()), cause)
}

// FindElement waits for the first match of loc to be visible.
func (b *Base) FindElement(loc Locator) (playwright.Locator, error) {
	first := b.page().Locator(loc.Query()).First()
	err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: b.timeoutMS(),
	})
	if err != nil {
		b.log.Debug("element_not_found", "locator", loc.String(), "url", b.URL())
		return nil, b.notFound(loc, err)
	}
	return first, nil
}

// FindAll waits for at least one visible match and returns every match.
func (b *Base) FindAll(loc Locator) ([]playwright.Locator, error) {
	if _, err := b.FindElement(loc); err != nil {
		return nil, err
	}
	all, err := b.page().Locator(loc.Query()).All()
	if err != nil {
		return nil, b.notFound(loc, err)
	}
	return all, nil
}

// Count returns the current number of matches without waiting.
func (b *Base) Count(loc Locator) (int, error) {
	n, err := b.page().Locator(loc.Query()).Count()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", loc, err)
	}
	return n, nil
}

// Click clicks the first visible match.
func (b *Base) Click(loc Locator) error {
	el, err := b.FindElement(loc)
	if err != nil {
		return err
	}
	b.log.Debug("click", "locator", loc.String())
	if err := el.Click(playwright.LocatorClickOptions{Timeout: b.timeoutMS()}); err != nil {
		return b.notFound(loc, err)
	}
	return nil
}

// ClickAndWait clicks loc and waits until the browser has loaded a new document.
func (b *Base) ClickAndWait(loc Locator) error {
	el, err := b.FindElement(loc)
	if err != nil {
		return err
	}
	return b.clickAndWait(loc, el)
}

// ClickNthAndWait clicks the i-th match of loc (negative counts from the end)
// and waits for the new document.
func (b *Base) ClickNthAndWait(loc Locator, i int) error {
	all, err := b.FindAll(loc)
	if err != nil {
		return err
	}
	if i < 0 {
		i += len(all)
	}
	if i < 0 || i >= len(all) {
		return errs.New(errs.ElementNotFound, fmt.Sprintf("element %s has %d matches, index %d out of range on %s", loc, len(all), i, b.URL()))
	}
	return b.clickAndWait(loc, all[i])
}

func (b *Base) clickAndWait(loc Locator, el playwright.Locator) error {
	if _, err := b.page().Evaluate(fmt.Sprintf("() => { window.%s = true }", navigationTag)); err != nil {
		return fmt.Errorf("mark document before %s: %w", loc, err)
	}
	b.log.Debug("click_and_wait", "locator", loc.String())
	if err := el.Click(playwright.LocatorClickOptions{Timeout: b.timeoutMS()}); err != nil {
		return b.notFound(loc, err)
	}
	err := b.poll(fmt.Sprintf("navigation after clicking %s", loc), func() (bool, error) {
		pending, err := b.page().Evaluate(fmt.Sprintf("() => window.%s === true", navigationTag))
		if err != nil {
			// The old execution context is torn down mid-navigation.
			return false, err
		}
		still, _ := pending.(bool)
		return !still, nil
	})
	if err != nil {
		return err
	}
	if err := b.page().WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: b.timeoutMS(),
	}); err != nil {
		return errs.Wrap(errs.TimeoutExceeded, fmt.Sprintf("page after clicking %s did not load", loc), err)
	}
	return nil
}

// Type replaces the value of the first visible match with text.
func (b *Base) Type(loc Locator, text string) error {
	el, err := b.FindElement(loc)
	if err != nil {
		return err
	}
	b.log.Debug("type", "locator", loc.String(), "chars", len(text))
	if err := el.Fill(text, playwright.LocatorFillOptions{Timeout: b.timeoutMS()}); err != nil {
		return b.notFound(loc, err)
	}
	return nil
}

// GetText returns the rendered, trimmed text of the first visible match.
func (b *Base) GetText(loc Locator) (string, error) {
	el, err := b.FindElement(loc)
	if err != nil {
		return "", err
	}
	text, err := el.InnerText(playwright.LocatorInnerTextOptions{Timeout: b.timeoutMS()})
	if err != nil {
		return "", b.notFound(loc, err)
	}
	return strings.TrimSpace(text), nil
}

// Texts returns the trimmed text of every match, waiting for at least one.
func (b *Base) Texts(loc Locator) ([]string, error) {
	all, err := b.FindAll(loc)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, el := range all {
		text, err := el.InnerText(playwright.LocatorInnerTextOptions{Timeout: b.timeoutMS()})
		if err != nil {
			return nil, b.notFound(loc, err)
		}
		out = append(out, strings.TrimSpace(text))
	}
	return out, nil
}

// Attribute returns an attribute of the first visible match as written in the markup.
func (b *Base) Attribute(loc Locator, name string) (string, error) {
	el, err := b.FindElement(loc)
	if err != nil {
		return "", err
	}
	value, err := el.GetAttribute(name, playwright.LocatorGetAttributeOptions{Timeout: b.timeoutMS()})
	if err != nil {
		return "", b.notFound(loc, err)
	}
	return value, nil
}

// Attributes returns an attribute of every match.
func (b *Base) Attributes(loc Locator, name string) ([]string, error) {
	all, err := b.FindAll(loc)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, el := range all {
		value, err := el.GetAttribute(name, playwright.LocatorGetAttributeOptions{Timeout: b.timeoutMS()})
		if err != nil {
			return nil, b.notFound(loc, err)
		}
		out = append(out, value)
	}
	return out, nil
}

// Property returns a DOM property of the first visible match as a string.
// For src and href this is the resolved absolute URL.
func (b *Base) Property(loc Locator, name string) (string, error) {
	el, err := b.FindElement(loc)
	if err != nil {
		return "", err
	}
	v, err := el.Evaluate("(el, name) => String(el[name] ?? '')", name)
	if err != nil {
		return "", b.notFound(loc, err)
	}
	s, _ := v.(string)
	return s, nil
}

// InputValue returns the current value of an input, textarea or select.
func (b *Base) InputValue(loc Locator) (string, error) {
	el, err := b.FindElement(loc)
	if err != nil {
		return "", err
	}
	value, err := el.InputValue(playwright.LocatorInputValueOptions{Timeout: b.timeoutMS()})
	if err != nil {
		return "", b.notFound(loc, err)
	}
	return value, nil
}

// CSSValue returns the computed style property of the first visible match.
func (b *Base) CSSValue(loc Locator, property string) (string, error) {
	el, err := b.FindElement(loc)
	if err != nil {
		return "", err
	}
	v, err := el.Evaluate("(el, prop) => getComputedStyle(el).getPropertyValue(prop)", property)
	if err != nil {
		return "", b.notFound(loc, err)
	}
	s, _ := v.(string)
	return strings.TrimSpace(s), nil
}

// SelectIndex picks the option at index i of a select element.
func (b *Base) SelectIndex(loc Locator, i int) error {
	el, err := b.FindElement(loc)
	if err != nil {
		return err
	}
	if _, err := el.SelectOption(playwright.SelectOptionValues{Indexes: &[]int{i}}, playwright.LocatorSelectOptionOptions{Timeout: b.timeoutMS()}); err != nil {
		return b.notFound(loc, err)
	}
	return nil
}

// SetFile attaches the file at path to a file input.
func (b *Base) SetFile(loc Locator, path string) error {
	el, err := b.FindElement(loc)
	if err != nil {
		return err
	}
	b.log.Debug("set_file", "locator", loc.String(), "path", path)
	if err := el.SetInputFiles(path, playwright.LocatorSetInputFilesOptions{Timeout: b.timeoutMS()}); err != nil {
		return fmt.Errorf("attach %s to %s: %w", path, loc, err)
	}
	return nil
}

// IsVisible reports whether loc becomes visible within the timeout.
func (b *Base) IsVisible(loc Locator) bool {
	err := b.page().Locator(loc.Query()).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: b.timeoutMS(),
	})
	return err == nil
}

// IsPresentNow reports whether loc is visible right now, without waiting.
func (b *Base) IsPresentNow(loc Locator) bool {
	visible, err := b.page().Locator(loc.Query()).First().IsVisible()
	return err == nil && visible
}

// poll re-evaluates check until it reports true or the session timeout elapses.
func (b *Base) poll(what string, check func() (bool, error)) error {
	deadline := time.Now().Add(b.s.Timeout)
	var lastErr error
	for {
		ok, err := check()
		if err == nil && ok {
			return nil
		}
		lastErr = err
		if !time.Now().Before(deadline) {
			return errs.Wrap(errs.TimeoutExceeded,
				fmt.Sprintf("%s not satisfied within %s on %s", what, b.s.Timeout, b.URL()), lastErr)
		}
		time.Sleep(pollInterval)
	}
}

// WaitForURLContains waits until the current URL contains fragment.
func (b *Base) WaitForURLContains(fragment string) error {
	return b.poll(fmt.Sprintf("url containing %q", fragment), func() (bool, error) {
		return strings.Contains(b.URL(), fragment), nil
	})
}

// WaitForElementVisible waits for loc to be visible, failing with TimeoutExceeded.
func (b *Base) WaitForElementVisible(loc Locator) error {
	if _, err := b.FindElement(loc); err != nil {
		return errs.Wrap(errs.TimeoutExceeded, fmt.Sprintf("element %s did not become visible", loc), err)
	}
	return nil
}

// WaitForValue waits until the input value of loc satisfies pred and returns it.
func (b *Base) WaitForValue(loc Locator, pred func(string) bool) (string, error) {
	if _, err := b.FindElement(loc); err != nil {
		return "", err
	}
	var value string
	err := b.poll(fmt.Sprintf("value of %s", loc), func() (bool, error) {
		v, err := b.page().Locator(loc.Query()).First().InputValue(playwright.LocatorInputValueOptions{Timeout: b.timeoutMS()})
		if err != nil {
			return false, err
		}
		value = v
		return pred(v), nil
	})
	return value, err
}

// Navigate opens path relative to the base URL and waits for DOMContentLoaded.
func (b *Base) Navigate(path string) error {
	target := b.s.URL(path)
	b.log.Debug("navigate", "url", target)
	_, err := b.page().Goto(target, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   b.timeoutMS(),
	})
	if err != nil {
		return errs.Wrap(errs.TimeoutExceeded, fmt.Sprintf("navigate to %s", target), err)
	}
	return nil
}

// ExpectText compares the text of loc with want.
func (b *Base) ExpectText(loc Locator, want string) error {
	got, err := b.GetText(loc)
	if err != nil {
		return err
	}
	if got != want {
		return errs.New(errs.AssertionFailed, fmt.Sprintf("text of %s on %s: expected %q, got %q", loc, b.URL(), want, got))
	}
	return nil
}

// SuccessAlert returns the text of the green flash message.
func (b *Base) SuccessAlert() (string, error) {
	return b.GetText(successAlert)
}

// DangerAlert returns the text of the red flash message.
func (b *Base) DangerAlert() (string, error) {
	return b.GetText(dangerAlert)
}

// URL returns the current page URL.
func (b *Base) URL() string {
	return b.page().URL()
}

// Title returns the document title.
func (b *Base) Title() (string, error) {
	title, err := b.page().Title()
	if err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

// Screenshot writes a full-page screenshot to path.
func (b *Base) Screenshot(path string) error {
	return b.s.Screenshot(path)
}

// ClickForPopupURL clicks loc, waits for the window it opens to load and
// returns that window's URL. The popup is closed afterwards.
func (b *Base) ClickForPopupURL(loc Locator) (string, error) {
	el, err := b.FindElement(loc)
	if err != nil {
		return "", err
	}
	popup, err := b.page().ExpectPopup(func() error {
		return el.Click(playwright.LocatorClickOptions{Timeout: b.timeoutMS()})
	}, playwright.PageExpectPopupOptions{Timeout: b.timeoutMS()})
	if err != nil {
		return "", errs.Wrap(errs.TimeoutExceeded, fmt.Sprintf("no window opened after clicking %s", loc), err)
	}
	defer popup.Close()

	if err := popup.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: b.timeoutMS(),
	}); err != nil {
		return "", errs.Wrap(errs.TimeoutExceeded, "popup did not load", err)
	}
	return popup.URL(), nil
}

// Logout signs out through the nav bar and returns the login page.
func (b *Base) Logout() (*LoginPage, error) {
	if err := b.ClickAndWait(signOutLink); err != nil {
		return nil, err
	}
	return NewLoginPage(b)
}

// CurrentUser returns the username the nav bar shows as signed in.
func (b *Base) CurrentUser() (string, error) {
	return b.GetText(currentUser)
}

// IsSignedIn reports whether the nav bar shows a signed-in user right now.
func (b *Base) IsSignedIn() bool {
	return b.IsPresentNow(currentUser)
}

// NavLinks returns the href of every nav bar link.
func (b *Base) NavLinks() ([]string, error) {
	return b.Attributes(navLinks, "href")
}

// expectLanding waits for the URL fragment and the landmark that identify a page.
func (b *Base) expectLanding(kind Kind, fragment string, landmark Locator) error {
	if fragment != "" {
		if err := b.WaitForURLContains(fragment); err != nil {
			return errs.Wrap(errs.TimeoutExceeded, fmt.Sprintf("%s page never appeared", kind), err)
		}
	}
	if _, err := b.FindElement(landmark); err != nil {
		return errs.Wrap(errs.TimeoutExceeded, fmt.Sprintf("%s page never appeared", kind), err)
	}
	return nil
}
