package widget

import (
	"net/http"
	"sort"
	"sync"

	"github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/middleware/csrf"
	"github.com/goliatone/go-router"
)

// LocalsClassesKey is the router locals key holding the element classes
// while a widget handler runs.
const LocalsClassesKey = "widget_classes"

// RouteRegistrar captures the router methods used by Page.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// Page is a Document served over HTTP. Each element is reachable under
// /{id} of the group the page is registered on.
type Page struct {
	session SessionConfig
	csrf    csrf.Config

	mu       sync.RWMutex
	elements map[string]*PageElement
}

// PageOption customizes a Page.
type PageOption func(*Page)

// WithSessionConfig sets the browser session cookie options.
func WithSessionConfig(cfg SessionConfig) PageOption {
	return func(p *Page) {
		p.session = cfg
	}
}

// WithCSRFConfig sets the CSRF protection options of the widget routes.
func WithCSRFConfig(cfg csrf.Config) PageOption {
	return func(p *Page) {
		p.csrf = cfg
	}
}

// NewPage returns an empty page.
func NewPage(opts ...PageOption) *Page {
	p := &Page{elements: map[string]*PageElement{}}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

var _ Document = (*Page)(nil)

// CreateElement adds an element, returning the existing one when id is
// already taken.
func (p *Page) CreateElement(id string) *PageElement {
	id = authclient.SanitizeIdentifier(id)

	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.elements[id]; ok {
		return el
	}
	el := &PageElement{id: id, classes: map[string]struct{}{}}
	p.elements[id] = el
	return el
}

// RemoveElement drops the element with id.
func (p *Page) RemoveElement(id string) {
	p.mu.Lock()
	delete(p.elements, id)
	p.mu.Unlock()
}

// ElementByID implements Document.
func (p *Page) ElementByID(id string) (Element, bool) {
	el, ok := p.element(id)
	if !ok {
		return nil, false
	}
	return el, true
}

func (p *Page) element(id string) (*PageElement, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	el, ok := p.elements[id]
	return el, ok
}

// Register wires the element routes and the /csrf token route. Every route
// runs behind the session middleware; POST and DELETE also require a valid
// CSRF token in the _token form field or the X-CSRF-Token header.
func (p *Page) Register(r RouteRegistrar) {
	session := SessionMiddleware(p.session)
	protect := csrf.New(p.csrf)

	csrf.RegisterRoutes(r, csrf.RouteConfig{}, session, protect)
	r.Get("/:id", p.serve(http.MethodGet, ""), session, protect)
	r.Get("/:id/oauth/:provider", p.serve(http.MethodGet, ActionOAuth), session, protect)
	r.Get("/:id/:action", p.serve(http.MethodGet, ""), session, protect)
	r.Post("/:id/:action", p.serve(http.MethodPost, ""), session, protect)
	r.Delete("/:id", p.serve(http.MethodDelete, ""), session, protect)
}

// serve routes to the view mounted on the :id element. An empty action is
// taken from the :action param.
func (p *Page) serve(method, action string) router.HandlerFunc {
	return func(ctx router.Context) error {
		el, ok := p.element(ctx.Param("id"))
		if !ok {
			return notFound(ctx)
		}
		view := el.View()
		if view == nil {
			return notFound(ctx)
		}

		name := action
		if name == "" {
			name = ctx.Param("action")
		}
		handler, ok := view.Handler(method, name)
		if !ok {
			return notFound(ctx)
		}

		ctx.Locals(LocalsClassesKey, el.Classes())
		return handler(ctx)
	}
}

func notFound(ctx router.Context) error {
	return ctx.JSON(router.StatusNotFound, map[string]string{
		"error": "widget not found",
	})
}

// PageElement is an Element of a Page.
type PageElement struct {
	id string

	mu      sync.RWMutex
	classes map[string]struct{}
	view    View
}

var _ Element = (*PageElement)(nil)

func (e *PageElement) ID() string {
	return e.id
}

func (e *PageElement) AddClass(name string) {
	if name == "" {
		return
	}
	e.mu.Lock()
	e.classes[name] = struct{}{}
	e.mu.Unlock()
}

func (e *PageElement) RemoveClass(name string) {
	e.mu.Lock()
	delete(e.classes, name)
	e.mu.Unlock()
}

func (e *PageElement) HasClass(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.classes[name]
	return ok
}

// Classes returns the class list in sorted order.
func (e *PageElement) Classes() []string {
	e.mu.RLock()
	out := make([]string, 0, len(e.classes))
	for name := range e.classes {
		out = append(out, name)
	}
	e.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Mount replaces the element content with view.
func (e *PageElement) Mount(view View) error {
	if view == nil {
		return widgetError(ErrMountFailed, "nil view", nil, map[string]any{"container": e.id})
	}
	e.mu.Lock()
	e.view = view
	e.mu.Unlock()
	return nil
}

// Unmount clears the element content.
func (e *PageElement) Unmount() error {
	e.mu.Lock()
	e.view = nil
	e.mu.Unlock()
	return nil
}

// View returns the mounted view, nil when empty.
func (e *PageElement) View() View {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view
}
