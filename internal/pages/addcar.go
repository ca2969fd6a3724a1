package pages

import (
	"fmt"
)

var (
	carMake         = XPath("//input[@id='make']")
	carModel        = XPath("//input[@id='model']")
	carYear         = XPath("//select[@id='year']")
	carDirector     = XPath("//input[@id='director']")
	carMainSettings = ID("main_settings")
	carDescription  = XPath("//div/textarea[@name='description']")
	carImage        = XPath("//input[@id='image_file']")
	carSubmit       = XPath("//input[@id='submit']")
)

// CarForm is the add-car form. YearIndex indexes the year select; 0 is the
// placeholder option.
type CarForm struct {
	Make         string
	Model        string
	YearIndex    int
	Director     string
	MainSettings string
	Description  string
	ImagePath    string
}

// AddedMessage is the flash the site shows once the car is listed.
func (f CarForm) AddedMessage() string {
	return fmt.Sprintf("Car %s %s added successfully!", f.Make, f.Model)
}

// AddCarPage is the admin-only /add_car form.
type AddCarPage struct {
	*Base
}

func (*AddCarPage) Kind() Kind { return KindAddCar }

// NewAddCarPage verifies the browser shows the add-car form.
func NewAddCarPage(b *Base) (*AddCarPage, error) {
	if err := b.expectLanding(KindAddCar, "/add_car", carSubmit); err != nil {
		return nil, err
	}
	return &AddCarPage{Base: b}, nil
}

// YearOptions returns the text of every year option, placeholder first.
func (p *AddCarPage) YearOptions() ([]string, error) {
	el, err := p.FindElement(carYear)
	if err != nil {
		return nil, err
	}
	v, err := el.Evaluate("el => Array.from(el.options).map(o => o.text.trim())", nil)
	if err != nil {
		return nil, p.notFound(carYear, err)
	}
	raw, _ := v.([]interface{})
	out := make([]string, 0, len(raw))
	for _, o := range raw {
		s, _ := o.(string)
		out = append(out, s)
	}
	return out, nil
}

// AddCar fills and submits the form. A listed car lands on the dashboard,
// whose flash must read "Car {make} {model} added successfully!"; a
// rejected form comes back as the add-car page.
func (p *AddCarPage) AddCar(f CarForm) (Page, error) {
	fields := []struct {
		loc   Locator
		value string
	}{
		{carMake, f.Make},
		{carModel, f.Model},
		{carDirector, f.Director},
		{carMainSettings, f.MainSettings},
		{carDescription, f.Description},
	}
	for _, field := range fields {
		if err := p.Type(field.loc, field.value); err != nil {
			return nil, err
		}
	}
	if err := p.SelectIndex(carYear, f.YearIndex); err != nil {
		return nil, err
	}
	if f.ImagePath != "" {
		if err := p.SetFile(carImage, f.ImagePath); err != nil {
			return nil, err
		}
	}
	if err := p.ClickAndWait(carSubmit); err != nil {
		return nil, fmt.Errorf("submit car %s %s: %w", f.Make, f.Model, err)
	}
	if p.IsPresentNow(carSubmit) {
		return NewAddCarPage(p.Base)
	}
	d, err := NewDashboardPage(p.Base)
	if err != nil {
		return nil, err
	}
	if err := d.ExpectText(successAlert, f.AddedMessage()); err != nil {
		return nil, err
	}
	return d, nil
}
