package pages

import (
	"fmt"
	"strings"
)

var (
	galleryTitle   = ID("car-title")
	galleryPhotos  = CSS("img.gallery-photo")
	photoFile      = ID("photo_file")
	photoUpload    = ID("upload-photo")
	reviewInput    = XPath("//form/textarea")
	reviewSubmit   = ID("submit")
	reviewItems    = XPath("//ul/li")
	aiReviewButton = ID("ai-review-button")
	aiReviewOutput = ID("review-input")
)

const (
	reviewAddedMessage = "Review added successfully!"
	duplicatePrefix    = "This photo is already in the gallery"
)

// UploadOutcome classifies the site's answer to a photo upload.
type UploadOutcome int

const (
	UploadAccepted UploadOutcome = iota
	UploadDuplicate
	UploadRejected
)

func (o UploadOutcome) String() string {
	switch o {
	case UploadAccepted:
		return "accepted"
	case UploadDuplicate:
		return "duplicate"
	default:
		return "rejected"
	}
}

// UploadResult is the outcome of a photo upload and the flash that said so.
type UploadResult struct {
	Outcome UploadOutcome
	Message string
}

// GalleryPage is a listing's page at /car/{id}: photos and reviews.
type GalleryPage struct {
	*Base
}

func (*GalleryPage) Kind() Kind { return KindGallery }

// NewGalleryPage verifies the browser shows a listing.
func NewGalleryPage(b *Base) (*GalleryPage, error) {
	if err := b.expectLanding(KindGallery, "/car/", galleryTitle); err != nil {
		return nil, err
	}
	return &GalleryPage{Base: b}, nil
}

// Title returns the listing title heading.
func (p *GalleryPage) Title() (string, error) {
	return p.GetText(galleryTitle)
}

// Photos returns the src of every gallery photo in display order.
func (p *GalleryPage) Photos() ([]string, error) {
	n, err := p.Count(galleryPhotos)
	if err != nil || n == 0 {
		return nil, err
	}
	return p.Attributes(galleryPhotos, "src")
}

// PhotoCount returns how many photos the gallery shows.
func (p *GalleryPage) PhotoCount() (int, error) {
	return p.Count(galleryPhotos)
}

// UploadPhoto submits the file at path to the gallery. Rejections are
// reported in the result, not as errors.
func (p *GalleryPage) UploadPhoto(path string) (UploadResult, error) {
	if err := p.SetFile(photoFile, path); err != nil {
		return UploadResult{}, err
	}
	if err := p.ClickAndWait(photoUpload); err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", path, err)
	}
	if _, err := NewGalleryPage(p.Base); err != nil {
		return UploadResult{}, err
	}
	if p.IsPresentNow(successAlert) {
		msg, err := p.SuccessAlert()
		return UploadResult{Outcome: UploadAccepted, Message: msg}, err
	}
	msg, err := p.DangerAlert()
	if err != nil {
		return UploadResult{}, err
	}
	if strings.HasPrefix(msg, duplicatePrefix) {
		return UploadResult{Outcome: UploadDuplicate, Message: msg}, nil
	}
	return UploadResult{Outcome: UploadRejected, Message: msg}, nil
}

// AddReview types text into the review box and submits it.
func (p *GalleryPage) AddReview(text string) error {
	if err := p.Type(reviewInput, text); err != nil {
		return err
	}
	return p.SubmitReview()
}

// SubmitReview submits whatever the review box holds and checks the flash.
func (p *GalleryPage) SubmitReview() error {
	if err := p.ClickAndWait(reviewSubmit); err != nil {
		return err
	}
	if _, err := NewGalleryPage(p.Base); err != nil {
		return err
	}
	return p.ExpectText(successAlert, reviewAddedMessage)
}

// Reviews returns every review line, oldest first, as "author: text".
func (p *GalleryPage) Reviews() ([]string, error) {
	n, err := p.Count(reviewItems)
	if err != nil || n == 0 {
		return nil, err
	}
	return p.Texts(reviewItems)
}

// LatestReview returns the newest review line.
func (p *GalleryPage) LatestReview() (string, error) {
	reviews, err := p.Reviews()
	if err != nil {
		return "", err
	}
	if len(reviews) == 0 {
		return "", p.notFound(reviewItems, nil)
	}
	return reviews[len(reviews)-1], nil
}

// RequestAIReview asks the site for a generated review and returns it once
// the review box has been filled. The review is not submitted.
func (p *GalleryPage) RequestAIReview() (string, error) {
	if err := p.Click(aiReviewButton); err != nil {
		return "", err
	}
	return p.WaitForValue(aiReviewOutput, func(v string) bool {
		return strings.TrimSpace(v) != ""
	})
}
