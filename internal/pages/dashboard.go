package pages

import (
	"fmt"
	"slices"
)

var (
	catalogHeading  = ID("catalog-title")
	mainBackground  = TagName("body")
	brandingIcon    = ClassName("branding-icon")
	linkedInIcon    = XPath("//p/a/img[@class='linkedin-icon']")
	linkedInLink    = XPath("//p/a[img[@class='linkedin-icon']]")
	addNewCarLink   = XPath("//nav/a[@href='/add_car']")
	adminLink       = XPath("//nav/a[@href='/admin']")
	deleteCarButton = XPath("//div[@class='car-item']/form/button[@class='btn btn-danger']")
	listingLinks    = XPath("//div/div/div/a")
)

const carDeletedMessage = "Car deleted successfully!"

// DashboardPage is the car catalog at /.
type DashboardPage struct {
	*Base
}

func (*DashboardPage) Kind() Kind { return KindDashboard }

// OpenDashboard navigates to /.
func OpenDashboard(b *Base) (*DashboardPage, error) {
	if err := b.Navigate("/"); err != nil {
		return nil, err
	}
	return NewDashboardPage(b)
}

// NewDashboardPage verifies the browser shows the catalog.
func NewDashboardPage(b *Base) (*DashboardPage, error) {
	if err := b.expectLanding(KindDashboard, "", catalogHeading); err != nil {
		return nil, err
	}
	return &DashboardPage{Base: b}, nil
}

// WelcomeMessage returns the success flash shown after sign-in or sign-up.
func (p *DashboardPage) WelcomeMessage() (string, error) {
	return p.SuccessAlert()
}

// IsAddCarVisible reports whether the admin "Add New Car" link is shown.
func (p *DashboardPage) IsAddCarVisible() bool {
	return p.IsVisible(addNewCarLink)
}

// DeleteButtonsVisible reports whether any listing has a delete button.
func (p *DashboardPage) DeleteButtonsVisible() bool {
	return p.IsVisible(deleteCarButton)
}

// ListingTitles returns the listing titles in catalog order.
func (p *DashboardPage) ListingTitles() ([]string, error) {
	n, err := p.Count(listingLinks)
	if err != nil || n == 0 {
		return nil, err
	}
	return p.Texts(listingLinks)
}

// OpenAddCar follows the nav bar link to the add-car form.
func (p *DashboardPage) OpenAddCar() (*AddCarPage, error) {
	if err := p.ClickAndWait(addNewCarLink); err != nil {
		return nil, err
	}
	return NewAddCarPage(p.Base)
}

// OpenAdmin follows the nav bar link to the admin listing table.
func (p *DashboardPage) OpenAdmin() (*AdminPage, error) {
	if err := p.ClickAndWait(adminLink); err != nil {
		return nil, err
	}
	return NewAdminPage(p.Base)
}

// OpenLastListing opens the gallery of the last car in the catalog.
func (p *DashboardPage) OpenLastListing() (*GalleryPage, error) {
	if err := p.ClickNthAndWait(listingLinks, -1); err != nil {
		return nil, err
	}
	return NewGalleryPage(p.Base)
}

// OpenListing opens the gallery of the first car titled title.
func (p *DashboardPage) OpenListing(title string) (*GalleryPage, error) {
	titles, err := p.ListingTitles()
	if err != nil {
		return nil, err
	}
	i := slices.Index(titles, title)
	if i < 0 {
		return nil, p.notFound(XPath(fmt.Sprintf("//div/div/div/a[normalize-space()=%q]", title)), nil)
	}
	if err := p.ClickNthAndWait(listingLinks, i); err != nil {
		return nil, err
	}
	return NewGalleryPage(p.Base)
}

// DeleteLastListing deletes the last car only while more than keep listings
// have delete buttons, so seeded cars survive repeated runs. It reports
// whether a car was deleted and the success flash confirmed it.
func (p *DashboardPage) DeleteLastListing(keep int) (bool, error) {
	if _, err := p.FindElement(catalogHeading); err != nil {
		return false, err
	}
	n, err := p.Count(deleteCarButton)
	if err != nil {
		return false, err
	}
	if n <= keep {
		p.log.Info("delete_skipped", "listings", n, "keep", keep)
		return false, nil
	}
	if err := p.ClickNthAndWait(deleteCarButton, -1); err != nil {
		return false, err
	}
	msg, err := p.SuccessAlert()
	if err != nil {
		return false, err
	}
	return msg == carDeletedMessage, nil
}

// BackgroundImage returns the computed background-image of the body.
func (p *DashboardPage) BackgroundImage() (string, error) {
	return p.CSSValue(mainBackground, "background-image")
}

// BrandingIconURL returns the resolved src of the nav bar branding icon.
func (p *DashboardPage) BrandingIconURL() (string, error) {
	return p.Property(brandingIcon, "src")
}

// LinkedInURL returns the resolved href of the footer LinkedIn link.
func (p *DashboardPage) LinkedInURL() (string, error) {
	return p.Property(linkedInLink, "href")
}

// FollowLinkedIn clicks the LinkedIn icon and returns the URL of the window
// it opens.
func (p *DashboardPage) FollowLinkedIn() (string, error) {
	return p.ClickForPopupURL(linkedInIcon)
}
