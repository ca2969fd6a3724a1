package sandbox

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"

	"github.com/kuitang/carsphere-qa/internal/testdata"
)

// staticAsset is a generated image served under /static/background_image/.
type staticAsset struct {
	body        []byte
	contentType string
}

// staticImages are the page chrome images the layout references.
var staticImages = map[string]testdata.ImageFormat{
	"background_showroom.jpg": testdata.FormatJPEG,
	"branding.png":            testdata.FormatPNG,
	"linkedin.png":            testdata.FormatPNG,
}

func renderStaticAssets() (map[string]staticAsset, error) {
	assets := make(map[string]staticAsset, len(staticImages))
	for name, format := range staticImages {
		body, err := testdata.Render("static-"+name, format)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", name, err)
		}
		assets[name] = staticAsset{body: body, contentType: mimetype.Detect(body).String()}
	}
	return assets, nil
}

// handleStatic serves GET /static/background_image/{name}.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.assets[r.PathValue("name")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", asset.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(asset.body)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(asset.body)
}
