package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// previewRecipe is the part of a recipe a link preview needs.
type previewRecipe struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// metaSelector matches <meta> tags whose property or name ends in suffix,
// so "title" covers og:title and twitter:title alike.
func metaSelector(suffix string) string {
	return fmt.Sprintf(`meta[property$=%q], meta[name$=%q]`, suffix, suffix)
}

// recipePreview serves index.html with the link-preview tags describing
// the recipe at the request path. Anything the API will not return is a
// 404.
func (s *Server) recipePreview(w http.ResponseWriter, r *http.Request) {
	recipe, err := s.fetchRecipe(r)
	if err != nil {
		s.logger.Warn("fetch recipe preview", "path", r.URL.Path, "error", err)
		http.NotFound(w, r)
		return
	}

	doc, err := s.loadIndex()
	if err != nil {
		s.logger.Error("load index", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	host := "https://" + r.Host
	summary := firstLine(recipe.Description) + " ..."
	doc.Find(metaSelector("title")).SetAttr("content", recipe.Title)
	doc.Find("title").First().SetText(recipe.Title)
	doc.Find(metaSelector("description")).SetAttr("content", summary)
	doc.Find("description").First().SetText(summary)
	doc.Find(metaSelector("url")).SetAttr("content", host+r.URL.RequestURI())
	if recipe.Image != "" {
		image := host + "/api/images/" + recipe.Image + "?w=1500&h=1500"
		doc.Find(metaSelector("image")).SetAttr("content", image)
	}
	s.writeDocument(w, doc)
}

// shoppingListPreview labels a shared list link with the list's name, the
// last path segment.
func (s *Server) shoppingListPreview(w http.ResponseWriter, r *http.Request) {
	name := path.Base(r.URL.Path)
	if name == "" || name == "/" || name == "." || name == "shoppingLists" {
		s.serveIndex(w, r)
		return
	}

	doc, err := s.loadIndex()
	if err != nil {
		s.logger.Error("load index", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	doc.Find(metaSelector("description")).SetAttr("content", s.cfg.ShoppingListLabel+" "+name)
	s.writeDocument(w, doc)
}

func (s *Server) fetchRecipe(r *http.Request) (previewRecipe, error) {
	target := s.api.JoinPath(r.URL.Path)
	target.RawQuery = r.URL.RawQuery
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		return previewRecipe{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Express-Secret", s.cfg.Secret)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return previewRecipe{}, fmt.Errorf("fetch recipe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return previewRecipe{}, fmt.Errorf("fetch recipe: unexpected status %d", resp.StatusCode)
	}

	var recipe previewRecipe
	if err := json.NewDecoder(resp.Body).Decode(&recipe); err != nil {
		return previewRecipe{}, fmt.Errorf("decode recipe: %w", err)
	}
	return recipe, nil
}

func (s *Server) loadIndex() (*goquery.Document, error) {
	data, err := readIndex(s.cfg.StaticDir)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	return doc, nil
}

func (s *Server) writeDocument(w http.ResponseWriter, doc *goquery.Document) {
	out, err := doc.Html()
	if err != nil {
		s.logger.Error("render index", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(out))
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimRight(line, "\r")
}
