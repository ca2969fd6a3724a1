package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/carsphere-qa/internal/auth"
	"github.com/kuitang/carsphere-qa/internal/config"
	"github.com/kuitang/carsphere-qa/internal/db"
	"github.com/kuitang/carsphere-qa/internal/s3client"
	"github.com/kuitang/carsphere-qa/internal/testdata"
)

type stubReviewer struct {
	text string
	err  error
}

func (r stubReviewer) Review(context.Context, *db.Car) (string, error) {
	return r.text, r.err
}

func testSandboxConfig() *config.Sandbox {
	return &config.Sandbox{
		BaseURL:         "http://127.0.0.1",
		NoS3:            true,
		NoAI:            true,
		SessionDuration: time.Hour,
		ClientRPS:       1000,
		ClientBurst:     1000,
	}
}

func newTestSite(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	if opts.Config == nil {
		opts.Config = testSandboxConfig()
	}
	if opts.Hasher == nil {
		opts.Hasher = auth.FakeInsecureHasher{}
	}
	srv, err := New(context.Background(), opts)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		require.NoError(t, srv.Close())
	})
	return ts
}

// browserish keeps cookies and does not follow redirects.
type browserish struct {
	t    *testing.T
	base string
	http *http.Client
}

func newBrowserish(t *testing.T, ts *httptest.Server) *browserish {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browserish{t: t, base: ts.URL, http: &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (b *browserish) do(req *http.Request) (*http.Response, []byte) {
	b.t.Helper()
	resp, err := b.http.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp, body
}

func (b *browserish) get(path string) (*http.Response, []byte) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

func (b *browserish) page(path string) *goquery.Document {
	b.t.Helper()
	resp, body := b.get(path)
	require.Equal(b.t, http.StatusOK, resp.StatusCode, "GET %s: %s", path, body)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	require.NoError(b.t, err)
	return doc
}

func (b *browserish) postForm(path string, form url.Values) (*http.Response, []byte) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browserish) postMultipart(path string, fields map[string]string, fileField, fileName string, content []byte) (*http.Response, []byte) {
	b.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(b.t, mw.WriteField(k, v))
	}
	if fileField != "" {
		part, err := mw.CreateFormFile(fileField, fileName)
		require.NoError(b.t, err)
		_, err = part.Write(content)
		require.NoError(b.t, err)
	}
	require.NoError(b.t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, b.base+path, &buf)
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return b.do(req)
}

func (b *browserish) login(username, password string) {
	b.t.Helper()
	resp, body := b.postForm("/login", url.Values{"username": {username}, "password": {password}})
	require.Equal(b.t, http.StatusSeeOther, resp.StatusCode, "login %s: %s", username, body)
	require.Equal(b.t, "/", resp.Header.Get("Location"))
}

func (b *browserish) cars() []apiCar {
	b.t.Helper()
	resp, body := b.get("/api/cars")
	require.Equal(b.t, http.StatusOK, resp.StatusCode)
	var cars []apiCar
	require.NoError(b.t, json.Unmarshal(body, &cars))
	return cars
}

func alertText(doc *goquery.Document, kind string) string {
	return strings.TrimSpace(doc.Find(".alert.alert-" + kind).Text())
}

func TestDashboard_AnonymousSeesCatalogWithoutAdminControls(t *testing.T) {
	t.Parallel()
	b := newBrowserish(t, newTestSite(t, Options{}))

	doc := b.page("/")
	require.Equal(t, "Car Catalog", strings.TrimSpace(doc.Find("#catalog-title").Text()))
	require.Equal(t, len(seedCars), doc.Find("div.car-grid > div.car-item").Length())
	require.Zero(t, doc.Find("nav a[href='/add_car']").Length())
	require.Zero(t, doc.Find("button.btn-danger").Length())
	require.Equal(t, 1, doc.Find("nav a[href='/login']").Length())
	require.Zero(t, doc.Find("#current-user").Length())

	src, ok := doc.Find("img.branding-icon").Attr("src")
	require.True(t, ok)
	require.Equal(t, "/static/background_image/branding.png", src)
	href, ok := doc.Find("p > a:has(img.linkedin-icon)").Attr("href")
	require.True(t, ok)
	require.Contains(t, href, "israel-wasserman")
}

func TestLogin_RejectsBadPasswordAndGreetsAdmin(t *testing.T) {
	t.Parallel()
	b := newBrowserish(t, newTestSite(t, Options{}))

	resp, body := b.postForm("/login", url.Values{"username": {"admin"}, "password": {"1234"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, msgLoginFailed, alertText(doc, "danger"))
	require.Equal(t, 1, doc.Find("form button[type='submit']").Length())

	b.login("admin", "admin")
	doc = b.page("/")
	require.Equal(t, "Welcome, Administrator Manager!", alertText(doc, "success"))
	require.Equal(t, "admin", strings.TrimSpace(doc.Find("#current-user").Text()))
	require.Equal(t, 1, doc.Find("nav a[href='/add_car']").Length())
	require.Equal(t, len(seedCars), doc.Find("div.car-item > form > button.btn.btn-danger").Length())

	// The flash shows once.
	doc = b.page("/")
	require.Zero(t, doc.Find(".alert").Length())
}

func TestLogout_FlashesOnLoginPage(t *testing.T) {
	t.Parallel()
	b := newBrowserish(t, newTestSite(t, Options{}))
	b.login("user3", "user3")

	resp, _ := b.get("/logout")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/login", resp.Header.Get("Location"))

	doc := b.page("/login")
	require.Equal(t, msgLoggedOut, alertText(doc, "success"))
	require.Zero(t, doc.Find("#current-user").Length())

	resp, _ = b.get("/add_car")
	require.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestRegister_MismatchDuplicateAndSuccess(t *testing.T) {
	t.Parallel()
	b := newBrowserish(t, newTestSite(t, Options{}))

	form := url.Values{
		"firstname":        {"QAAuto_FirstName"},
		"lastname":         {"QAAuto_LastName"},
		"username":         {"Auto_username123"},
		"password":         {"1234"},
		"confirm_password": {"12345"},
	}
	resp, body := b.postForm("/register", form)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	require.NoError(t, err)
	hint := doc.Find("#confirm_pass")
	require.Equal(t, "Passwords are not match", strings.TrimSpace(hint.Text()))
	style, _ := hint.Attr("style")
	require.Contains(t, style, "red")

	form.Set("username", "user3")
	form.Set("password", "1235")
	form.Set("confirm_password", "1235")
	_, body = b.postForm("/register", form)
	doc, err = goquery.NewDocumentFromReader(bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, "Username 'user3' already exist, please try another username.", alertText(doc, "danger"))

	form.Set("username", "Auto_username123")
	resp, _ = b.postForm("/register", form)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp, body = b.get("/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "Welcome, QAAuto_FirstName QAAuto_LastName and thanks for registration!<br><br>!!! You&#39;re already logged-in. Let&#39;s Begin !!!")
	doc, err = goquery.NewDocumentFromReader(bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, "Auto_username123", strings.TrimSpace(doc.Find("#current-user").Text()))
}

func TestAdmin_AddThenDeleteCar(t *testing.T) {
	t.Parallel()
	b := newBrowserish(t, newTestSite(t, Options{}))
	b.login("admin", "admin")

	doc := b.page("/add_car")
	require.Equal(t, time.Now().Year()-oldestYear+2, doc.Find("select#year option").Length())

	img, err := testdata.Render("add-car", testdata.FormatJPEG)
	require.NoError(t, err)
	resp, body := b.postMultipart("/add_car", map[string]string{
		"make": "Auto Make Tesla123", "model": "Auto Model Y123", "year": "2015",
		"director": "Auto Director 1", "main_settings": "Auto Settings 1", "description": "Auto Description 1",
	}, "image_file", "car.jpg", img)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode, string(body))

	doc = b.page("/")
	require.Equal(t, "Car Auto Make Tesla123 Auto Model Y123 added successfully!", alertText(doc, "success"))
	last := doc.Find("div.car-item").Last()
	require.Equal(t, "Auto Make Tesla123 Auto Model Y123", strings.TrimSpace(last.Find("h3.car-title").Text()))
	thumb, ok := last.Find("img.car-thumb").Attr("src")
	require.True(t, ok)
	resp, _ = b.get(thumb)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	cars := b.cars()
	require.Len(t, cars, len(seedCars)+1)
	added := cars[len(cars)-1]
	require.Equal(t, "admin", added.Owner)
	require.Equal(t, 2015, added.Year)

	resp, _ = b.postForm(fmt.Sprintf("/delete_car/%d?next=/admin", added.ID), url.Values{})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/admin", resp.Header.Get("Location"))
	doc = b.page("/admin")
	require.Equal(t, msgCarDeleted, alertText(doc, "success"))
	require.Equal(t, len(seedCars), doc.Find("tr.listing-row").Length())
	require.Len(t, b.cars(), len(seedCars))

	resp, _ = b.get(thumb)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAddCar_RejectsIncompleteForm(t *testing.T) {
	t.Parallel()
	b := newBrowserish(t, newTestSite(t, Options{}))
	b.login("admin", "admin")

	resp, body := b.postMultipart("/add_car", map[string]string{"make": "Only Make"}, "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, msgCarIncomplete, alertText(doc, "danger"))
	require.Equal(t, 1, doc.Find("input#submit").Length())
}

func TestAdminRoutes_DeniedToRegularUsers(t *testing.T) {
	t.Parallel()
	ts := newTestSite(t, Options{})

	anon := newBrowserish(t, ts)
	resp, _ := anon.get("/admin")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/login", resp.Header.Get("Location"))

	user := newBrowserish(t, ts)
	user.login("user3", "user3")
	for _, path := range []string{"/add_car", "/admin"} {
		resp, _ := user.get(path)
		require.Equal(t, http.StatusForbidden, resp.StatusCode, path)
	}
	resp, _ = user.postForm("/delete_car/1", url.Values{})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	doc := user.page("/")
	require.Zero(t, doc.Find("nav a[href='/add_car']").Length())
	require.Zero(t, doc.Find("button.btn-danger").Length())
}

func TestGallery_PhotoUploadOutcomes(t *testing.T) {
	t.Parallel()
	b := newBrowserish(t, newTestSite(t, Options{}))
	b.login("user3", "user3")

	png, err := testdata.Render("gallery-upload", testdata.FormatPNG)
	require.NoError(t, err)
	text, err := testdata.Render("gallery-upload", testdata.FormatText)
	require.NoError(t, err)

	upload := func(name string, content []byte) string {
		resp, _ := b.postMultipart("/car/1/photos", nil, "photo_file", name, content)
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		require.Equal(t, "/car/1", resp.Header.Get("Location"))
		doc := b.page("/car/1")
		return strings.TrimSpace(doc.Find(".alert").Text())
	}

	require.Equal(t, msgPhotoUploaded, upload("a.png", png))
	require.Equal(t, msgPhotoDuplicate, upload("b.png", png))
	require.Equal(t, msgUnsupportedType, upload("c.jpg", text))

	doc := b.page("/car/1")
	require.Equal(t, 1, doc.Find("img.gallery-photo").Length())
	require.Equal(t, 1, b.cars()[0].Photos)
}

func TestGallery_PhotoKeyedByStoredFingerprint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	photos, err := s3client.NewInMemory(ctx, PhotoBucket)
	require.NoError(t, err)
	t.Cleanup(photos.Close)
	b := newBrowserish(t, newTestSite(t, Options{Photos: photos}))
	b.login("user3", "user3")

	png, err := testdata.Render("fingerprint", testdata.FormatPNG)
	require.NoError(t, err)
	resp, _ := b.postMultipart("/car/3/photos", nil, "photo_file", "p.png", png)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	keys, err := photos.List(ctx, s3client.GalleryPrefix(3))
	require.NoError(t, err)
	require.Equal(t, []string{s3client.GalleryPrefix(3) + s3client.Digest(png) + ".png"}, keys)

	src, ok := b.page("/car/3").Find("img.gallery-photo").Attr("src")
	require.True(t, ok)
	require.Equal(t, "/images/"+keys[0], src)

	resp, body := b.get(src)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.Equal(t, png, body)
	etag := resp.Header.Get("ETag")
	require.Equal(t, `"`+s3client.Digest(png)+`"`, etag)

	req, err := http.NewRequest(http.MethodGet, b.base+src, nil)
	require.NoError(t, err)
	req.Header.Set("If-None-Match", etag)
	resp, body = b.do(req)
	require.Equal(t, http.StatusNotModified, resp.StatusCode)
	require.Empty(t, body)
}

func TestAdmin_DeletePurgesEveryPhotoObject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	photos, err := s3client.NewInMemory(ctx, PhotoBucket)
	require.NoError(t, err)
	t.Cleanup(photos.Close)
	b := newBrowserish(t, newTestSite(t, Options{Photos: photos}))
	b.login("admin", "admin")

	cover, err := testdata.Render("purge-cover", testdata.FormatJPEG)
	require.NoError(t, err)
	resp, _ := b.postMultipart("/add_car", map[string]string{"make": "Purge", "model": "Me", "year": "2020"}, "image_file", "c.jpg", cover)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	cars := b.cars()
	id := cars[len(cars)-1].ID
	coverSrc, ok := b.page(fmt.Sprintf("/car/%d", id)).Find("img.car-cover").Attr("src")
	require.True(t, ok)
	coverKey := strings.TrimPrefix(coverSrc, "/images/")

	gallery, err := testdata.Render("purge-gallery", testdata.FormatPNG)
	require.NoError(t, err)
	resp, _ = b.postMultipart(fmt.Sprintf("/car/%d/photos", id), nil, "photo_file", "g.png", gallery)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	// An object with no photo row, as a rolled back upload leaves behind.
	orphan, err := s3client.NewGalleryPhoto(id, cover)
	require.NoError(t, err)
	require.NoError(t, photos.Put(ctx, orphan))

	keys, err := photos.List(ctx, s3client.GalleryPrefix(id))
	require.NoError(t, err)
	require.Len(t, keys, 2)

	resp, _ = b.postForm(fmt.Sprintf("/delete_car/%d", id), url.Values{})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	keys, err = photos.List(ctx, s3client.GalleryPrefix(id))
	require.NoError(t, err)
	require.Empty(t, keys)
	exists, err := photos.Exists(ctx, coverKey)
	require.NoError(t, err)
	require.False(t, exists)

	exists, err = photos.Exists(ctx, s3client.SeedCoverKey(1))
	require.NoError(t, err)
	require.True(t, exists, "seed covers survive another listing's delete")
}

func TestSeed_ReusesCoversAlreadyInBucket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	photos, err := s3client.NewInMemory(ctx, PhotoBucket)
	require.NoError(t, err)
	t.Cleanup(photos.Close)

	stale, err := s3client.NewCover(mustRender(t, "stale-cover"))
	require.NoError(t, err)
	stale.Key = s3client.SeedCoverKey(1)
	require.NoError(t, photos.Put(ctx, stale))

	newTestSite(t, Options{Photos: photos})

	got, err := photos.Get(ctx, s3client.SeedCoverKey(1))
	require.NoError(t, err)
	require.Equal(t, stale.Digest, got.Digest)
	keys, err := photos.List(ctx, "cars/covers/")
	require.NoError(t, err)
	require.Len(t, keys, len(seedCars))
}

func mustRender(t *testing.T, name string) []byte {
	t.Helper()
	body, err := testdata.Render(name, testdata.FormatJPEG)
	require.NoError(t, err)
	return body
}

func TestGallery_ReviewsAreSanitizedAndAttributed(t *testing.T) {
	t.Parallel()
	b := newBrowserish(t, newTestSite(t, Options{}))
	b.login("user3", "user3")

	resp, _ := b.postForm("/car/2/review", url.Values{"review": {"<b>Auto Manual Review</b> it's great"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	doc := b.page("/car/2")
	require.Equal(t, msgReviewAdded, alertText(doc, "success"))
	latest := doc.Find("ul.review-list > li").Last()
	require.Equal(t, "user3: Auto Manual Review it's great", strings.TrimSpace(latest.Text()))
	posted, ok := latest.Attr("title")
	require.True(t, ok)
	_, err := time.Parse("Jan 2, 2006", posted)
	require.NoError(t, err, "review timestamp %q", posted)

	b.postForm("/car/2/review", url.Values{"review": {"   "}})
	doc = b.page("/car/2")
	require.Equal(t, msgReviewEmpty, alertText(doc, "danger"))
	require.Equal(t, 1, doc.Find("ul.review-list > li").Length())
}

func TestAIReview_UsesReviewerAndFallsBack(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name     string
		reviewer Reviewer
		want     string
	}{
		{"generated", stubReviewer{text: "A generated review."}, "A generated review."},
		{"failure", stubReviewer{err: errors.New("quota exceeded")}, reviewFallback},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b := newBrowserish(t, newTestSite(t, Options{Reviewer: tc.reviewer}))
			b.login("user3", "user3")

			resp, body := b.get("/ai-review/3")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			var got map[string]string
			require.NoError(t, json.Unmarshal(body, &got))
			require.Equal(t, tc.want, got["review"])
		})
	}
}

func TestGetUsers_ListsSeededAccounts(t *testing.T) {
	t.Parallel()
	b := newBrowserish(t, newTestSite(t, Options{}))

	resp, body := b.get("/get-users")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var names []string
	require.NoError(t, json.Unmarshal(body, &names))
	require.Equal(t, []string{"admin", "user3"}, names)
}

func TestStaticAssetsAndProfile(t *testing.T) {
	t.Parallel()
	b := newBrowserish(t, newTestSite(t, Options{}))

	for name, want := range map[string]string{
		"background_showroom.jpg": "image/jpeg",
		"branding.png":            "image/png",
		"linkedin.png":            "image/png",
	} {
		resp, body := b.get("/static/background_image/" + name)
		require.Equal(t, http.StatusOK, resp.StatusCode, name)
		require.Equal(t, want, resp.Header.Get("Content-Type"), name)
		require.NotEmpty(t, body)
	}
	resp, _ := b.get("/static/background_image/missing.png")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	doc := b.page("/in/israel-wasserman")
	require.Equal(t, "israel-wasserman", strings.TrimSpace(doc.Find("#profile-name").Text()))

	resp, _ = b.get("/car/999")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = b.get("/no-such-page")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRateLimit_ThrottlesPerClient(t *testing.T) {
	t.Parallel()
	cfg := testSandboxConfig()
	cfg.ClientRPS = 0.001
	cfg.ClientBurst = 2
	b := newBrowserish(t, newTestSite(t, Options{Config: cfg}))

	var statuses []int
	for range 3 {
		resp, _ := b.get("/health")
		statuses = append(statuses, resp.StatusCode)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
}

func TestNew_RequiresConfig(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Options{})
	require.Error(t, err)
}

func TestYearOptions(t *testing.T) {
	t.Parallel()
	years := yearOptions(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, 2025, years[0])
	require.Equal(t, oldestYear, years[len(years)-1])
	require.Len(t, years, 2025-oldestYear+1)
}

func TestRenderMarkdown_SanitizesDescription(t *testing.T) {
	t.Parallel()
	out := string(renderMarkdown("**Fast** car <script>alert(1)</script>"))
	require.Contains(t, out, "<strong>Fast</strong>")
	require.NotContains(t, out, "<script>")
	require.Equal(t, "Solid & quick", sanitizeReview(" <i>Solid</i> &amp; quick "))
}
