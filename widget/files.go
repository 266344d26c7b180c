package widget

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/gofiber/template/django/v3"
)

//go:embed views/*.html
var viewsFS embed.FS

// GetViewsFS returns the widget templates rooted at the views directory.
func GetViewsFS() fs.FS {
	sub, err := fs.Sub(viewsFS, "views")
	if err != nil {
		return viewsFS
	}
	return sub
}

// NewViewEngine returns a django engine serving the widget templates. Pass
// it as fiber.Config.Views.
func NewViewEngine() *django.Engine {
	return django.NewFileSystem(http.FS(GetViewsFS()), ".html")
}
