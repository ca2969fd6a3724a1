package pages

import (
	"fmt"
	"slices"
)

var (
	adminHeading  = ID("admin-title")
	listingRows   = CSS("tr.listing-row")
	listingTitle  = CSS("tr.listing-row td.listing-title")
	listingOwner  = CSS("tr.listing-row td.listing-owner")
	listingDelete = CSS("tr.listing-row button.btn-danger")
)

// Listing is one row of the admin table.
type Listing struct {
	Title string
	Owner string
}

// AdminPage is the admin-only listing table at /admin.
type AdminPage struct {
	*Base
}

func (*AdminPage) Kind() Kind { return KindAdmin }

// OpenAdminPage navigates to /admin.
func OpenAdminPage(b *Base) (*AdminPage, error) {
	if err := b.Navigate("/admin"); err != nil {
		return nil, err
	}
	return NewAdminPage(b)
}

// NewAdminPage verifies the browser shows the admin table.
func NewAdminPage(b *Base) (*AdminPage, error) {
	if err := b.expectLanding(KindAdmin, "/admin", adminHeading); err != nil {
		return nil, err
	}
	return &AdminPage{Base: b}, nil
}

// Listings returns every row in table order.
func (p *AdminPage) Listings() ([]Listing, error) {
	n, err := p.Count(listingRows)
	if err != nil || n == 0 {
		return nil, err
	}
	titles, err := p.Texts(listingTitle)
	if err != nil {
		return nil, err
	}
	owners, err := p.Texts(listingOwner)
	if err != nil {
		return nil, err
	}
	if len(titles) != len(owners) {
		return nil, fmt.Errorf("admin table has %d titles and %d owners", len(titles), len(owners))
	}
	out := make([]Listing, len(titles))
	for i := range titles {
		out[i] = Listing{Title: titles[i], Owner: owners[i]}
	}
	return out, nil
}

// HasListing reports whether a row is titled title.
func (p *AdminPage) HasListing(title string) (bool, error) {
	listings, err := p.Listings()
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(listings, func(l Listing) bool { return l.Title == title }), nil
}

// DeleteListing deletes the first row titled title and returns the reloaded table.
func (p *AdminPage) DeleteListing(title string) (*AdminPage, error) {
	listings, err := p.Listings()
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(listings, func(l Listing) bool { return l.Title == title })
	if i < 0 {
		return nil, p.notFound(CSS(fmt.Sprintf("tr.listing-row td.listing-title:text-is(%q)", title)), nil)
	}
	if err := p.ClickNthAndWait(listingDelete, i); err != nil {
		return nil, err
	}
	next, err := NewAdminPage(p.Base)
	if err != nil {
		return nil, err
	}
	if err := next.ExpectText(successAlert, carDeletedMessage); err != nil {
		return nil, err
	}
	return next, nil
}
