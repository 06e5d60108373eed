// Package page holds the HTML page embedding the upload form and applies the
// fragments returned by form saves to it.
package page

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"signed-uploads/internal/form"
)

// Page is an in-memory HTML document. It is safe for concurrent use.
type Page struct {
	mu        sync.Mutex
	doc       *goquery.Document
	selectors form.Selectors
}

// Load parses an HTML page. sel decides which elements Apply replaces.
func Load(r io.Reader, sel form.Selectors) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	if sel.Catalog == "" {
		sel.Catalog = ".catalog"
	}
	return &Page{doc: doc, selectors: sel}, nil
}

// LoadFile is Load for a page stored on disk.
func LoadFile(path string, sel form.Selectors) (*Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer f.Close()
	return Load(f, sel)
}

// Blank returns a page holding only a status container matching listSelector
// when it is an id selector.
func Blank(listSelector string, sel form.Selectors) *Page {
	container := `<div id="filelist"></div>`
	if id, ok := strings.CutPrefix(listSelector, "#"); ok && id != "" && !strings.ContainsAny(id, " .[>:") {
		container = fmt.Sprintf(`<div id="%s"></div>`, id)
	}
	p, err := Load(strings.NewReader("<!doctype html><html><body>"+container+"</body></html>"), sel)
	if err != nil {
		panic(err)
	}
	return p
}

// Form builds a form.Form from the first element matching selector, taking
// its action, method and named inputs. opts supplies the transport; its
// Action, Method and Fields are used when the page does not set them.
func (p *Page) Form(selector string, opts form.Options) (*form.Form, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	el := p.doc.Find(selector).First()
	if el.Length() == 0 {
		return nil, fmt.Errorf("form %q not found in page", selector)
	}
	if action := strings.TrimSpace(el.AttrOr("action", "")); action != "" {
		opts.Action = action
	}
	if method := strings.TrimSpace(el.AttrOr("method", "")); method != "" {
		opts.Method = method
	}
	fields := make(map[string]string, len(opts.Fields))
	for k, v := range opts.Fields {
		fields[k] = v
	}
	el.Find("input[name], textarea[name], select[name]").Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("name", "")
		switch goquery.NodeName(s) {
		case "textarea":
			fields[name] = s.Text()
		case "select":
			fields[name] = s.Find("option[selected]").First().AttrOr("value", "")
		default:
			typ := strings.ToLower(s.AttrOr("type", "text"))
			if typ == "file" || typ == "submit" || typ == "button" {
				return
			}
			if (typ == "checkbox" || typ == "radio") && !s.Is("[checked]") {
				if _, ok := fields[name]; !ok {
					fields[name] = ""
				}
				return
			}
			fields[name] = s.AttrOr("value", "")
		}
	})
	opts.Fields = fields
	if opts.Selectors == (form.Selectors{}) {
		opts.Selectors = p.selectors
	}
	return form.New(opts), nil
}

// Apply splices saved regions into the page: catalog blocks by id (by
// position when the fragment has none), the preview element and hidden input
// values. It returns how many elements changed.
func (p *Page) Apply(regions form.Regions) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := 0
	current := p.doc.Find(p.selectors.Catalog)
	for i, region := range regions.Catalogs {
		var target *goquery.Selection
		if region.ID != "" {
			target = p.doc.Find("#" + region.ID)
		} else {
			target = current.Eq(i)
		}
		if target.Length() == 0 {
			continue
		}
		target.First().ReplaceWithHtml(region.HTML)
		changed++
	}

	if regions.Preview != nil {
		target := p.doc.Find(p.selectors.Preview)
		if regions.Preview.ID != "" {
			target = p.doc.Find("#" + regions.Preview.ID)
		}
		if target.Length() > 0 {
			target.First().ReplaceWithHtml(regions.Preview.HTML)
			changed++
		}
	}

	p.doc.Find(`input[type="hidden"]`).Each(func(_ int, s *goquery.Selection) {
		value, ok := regions.Hidden[s.AttrOr("name", "")]
		if !ok || s.AttrOr("value", "") == value {
			return
		}
		s.SetAttr("value", value)
		changed++
	})
	return changed
}

// SetInner replaces the children of the elements matching selector.
func (p *Page) SetInner(selector, html string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	target := p.doc.Find(selector)
	if target.Length() == 0 {
		return false
	}
	target.SetHtml(html)
	return true
}

// HTML renders the whole document.
func (p *Page) HTML() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return goquery.OuterHtml(p.doc.Selection)
}

// Snapshot renders the page with inner placed in the elements matching
// selector, leaving the page itself untouched.
func (p *Page) Snapshot(selector, inner string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := goquery.CloneDocument(p.doc)
	clone.Find(selector).SetHtml(inner)
	return goquery.OuterHtml(clone.Selection)
}
