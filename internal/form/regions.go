package form

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultCatalogSelector = ".catalog"
	defaultHiddenSelector  = `input[type="hidden"]`
)

// Selectors locate the regions in a saved page.
type Selectors struct {
	Catalog string
	Preview string
	Hidden  string
}

func (s Selectors) withDefaults() Selectors {
	if s.Catalog == "" {
		s.Catalog = defaultCatalogSelector
	}
	if s.Hidden == "" {
		s.Hidden = defaultHiddenSelector
	}
	return s
}

// Region is a server-rendered fragment. ID is empty when the element had none.
type Region struct {
	ID   string `json:"id,omitempty"`
	HTML string `json:"html"`
}

// Regions are the parts of the page that change when the form is saved.
type Regions struct {
	Catalogs []Region          `json:"catalogs"`
	Preview  *Region           `json:"preview,omitempty"`
	Hidden   map[string]string `json:"hidden"`
}

// Empty reports whether the response carried nothing to apply.
func (r Regions) Empty() bool {
	return len(r.Catalogs) == 0 && r.Preview == nil && len(r.Hidden) == 0
}

// ParseRegions extracts catalog blocks, the preview element and hidden inputs
// from an HTML document.
func ParseRegions(r io.Reader, sel Selectors) (Regions, error) {
	sel = sel.withDefaults()
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Regions{}, fmt.Errorf("parse saved page: %w", err)
	}

	regions := Regions{Hidden: map[string]string{}}
	doc.Find(sel.Catalog).Each(func(_ int, s *goquery.Selection) {
		if region, ok := outer(s); ok {
			regions.Catalogs = append(regions.Catalogs, region)
		}
	})
	if sel.Preview != "" {
		if region, ok := outer(doc.Find(sel.Preview).First()); ok {
			regions.Preview = &region
		}
	}
	doc.Find(sel.Hidden).Each(func(_ int, s *goquery.Selection) {
		name := strings.TrimSpace(s.AttrOr("name", ""))
		if name == "" {
			return
		}
		regions.Hidden[name] = s.AttrOr("value", "")
	})
	return regions, nil
}

func outer(s *goquery.Selection) (Region, bool) {
	if s.Length() == 0 {
		return Region{}, false
	}
	html, err := goquery.OuterHtml(s)
	if err != nil {
		return Region{}, false
	}
	return Region{ID: s.AttrOr("id", ""), HTML: html}, true
}
