package widget

import (
	"github.com/goliatone/go-router"
)

// Document resolves container elements by id.
type Document interface {
	ElementByID(id string) (Element, bool)
}

// Element is a mount point for a widget View. Class names are used for
// theming.
type Element interface {
	ID() string
	AddClass(name string)
	RemoveClass(name string)
	HasClass(name string) bool
	Mount(view View) error
	Unmount() error
}

// View is what a widget renders into an element. Handler resolves the
// handler for an HTTP method and widget action, the empty action being the
// widget root.
type View interface {
	Handler(method, action string) (router.HandlerFunc, bool)
}
