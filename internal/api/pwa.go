package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Manifest is the web app manifest served at the site root.
type Manifest struct {
	Name            string             `json:"name"`
	ShortName       string             `json:"short_name"`
	Description     string             `json:"description"`
	StartURL        string             `json:"start_url"`
	Scope           string             `json:"scope"`
	Display         string             `json:"display"`
	Orientation     string             `json:"orientation"`
	BackgroundColor string             `json:"background_color"`
	ThemeColor      string             `json:"theme_color"`
	Categories      []string           `json:"categories"`
	Dir             string             `json:"dir"`
	Lang            string             `json:"lang"`
	Icons           []ManifestIcon     `json:"icons"`
	Shortcuts       []ManifestShortcut `json:"shortcuts"`
}

type ManifestIcon struct {
	Src     string `json:"src"`
	Sizes   string `json:"sizes"`
	Type    string `json:"type,omitempty"`
	Purpose string `json:"purpose,omitempty"`
}

type ManifestShortcut struct {
	Name      string         `json:"name"`
	ShortName string         `json:"short_name"`
	URL       string         `json:"url"`
	Icons     []ManifestIcon `json:"icons"`
}

var manifestIconSizes = []string{"72", "96", "128", "144", "152", "192", "384", "512"}

// registerPWARoutes registers the manifest and worker discovery routes at
// the root so the scope covers the whole site.
func (s *Server) registerPWARoutes() {
	s.echo.GET("/manifest.webmanifest", s.handleManifest)
}

func (s *Server) buildManifest() Manifest {
	site := s.settings.Site
	icons := make([]ManifestIcon, 0, len(manifestIconSizes)+1)
	for _, size := range manifestIconSizes {
		icons = append(icons, ManifestIcon{
			Src:   "/icons/icon-" + size + ".png",
			Sizes: size + "x" + size,
			Type:  "image/png",
		})
	}
	icons = append(icons, ManifestIcon{Src: "/icons/maskable-512.png", Sizes: "512x512", Type: "image/png", Purpose: "maskable"})

	shortcutIcon := []ManifestIcon{{Src: "/icons/icon-96.png", Sizes: "96x96"}}
	scope := s.settings.PWA.Scope
	if scope == "" {
		scope = "/"
	}
	return Manifest{
		Name:            site.Name,
		ShortName:       site.ShortName,
		Description:     site.Description,
		StartURL:        site.StartURL,
		Scope:           scope,
		Display:         "standalone",
		Orientation:     "portrait-primary",
		BackgroundColor: site.BackgroundColor,
		ThemeColor:      site.ThemeColor,
		Categories:      []string{"news", "magazine", "entertainment"},
		Dir:             "ltr",
		Lang:            site.Lang,
		Icons:           icons,
		Shortcuts: []ManifestShortcut{
			{Name: "Today's News", ShortName: "Today", URL: "/today", Icons: shortcutIcon},
			{Name: "Headlines", ShortName: "Headlines", URL: "/headlines", Icons: shortcutIcon},
			{Name: "Live Updates", ShortName: "Live", URL: "/live", Icons: shortcutIcon},
		},
	}
}

// handleManifest serves the manifest. It has a fixed name, so it must not
// pick up long-lived cache headers.
func (s *Server) handleManifest(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Content-Type", "application/manifest+json")
	return c.JSON(http.StatusOK, s.buildManifest())
}
