package csrf

import "github.com/goliatone/go-router"

// RouteConfig controls how the CSRF token bootstrap endpoint behaves.
type RouteConfig struct {
	// Path is the route registered for retrieving the CSRF token.
	Path string
	// ContextKey is the context key where the middleware stored the token.
	ContextKey string
	// RouteName is the name assigned to the registered route.
	RouteName string
}

const (
	defaultRoutePath = "/csrf"
	defaultRouteName = "widget.csrf.get"
)

// Getter is the part of a router RegisterRoutes needs.
type Getter interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// RegisterRoutes registers a GET endpoint that returns the CSRF token and
// the form field and header names. mw must include the CSRF middleware.
func RegisterRoutes(app Getter, cfg RouteConfig, mw ...router.MiddlewareFunc) {
	conf := routeConfigDefault(cfg)
	app.Get(conf.Path, tokenHandler(conf), mw...).SetName(conf.RouteName)
}

func routeConfigDefault(c RouteConfig) RouteConfig {
	conf := RouteConfig{
		Path:       defaultRoutePath,
		ContextKey: DefaultContextKey,
		RouteName:  defaultRouteName,
	}

	if c.Path != "" {
		conf.Path = c.Path
	}

	if c.ContextKey != "" {
		conf.ContextKey = c.ContextKey
	}

	if c.RouteName != "" {
		conf.RouteName = c.RouteName
	}

	return conf
}

func tokenHandler(cfg RouteConfig) router.HandlerFunc {
	return func(ctx router.Context) error {
		helpers := TemplateHelpers(ctx, cfg.ContextKey)
		token, _ := helpers["token"].(string)
		if token == "" {
			return ctx.JSON(router.StatusUnauthorized, map[string]string{
				"error": ErrTokenMissing.Error(),
			})
		}

		ctx.SetHeader("Cache-Control", "no-store, max-age=0")
		ctx.SetHeader("Pragma", "no-cache")
		ctx.SetHeader("Expires", "0")

		return ctx.JSON(router.StatusOK, map[string]string{
			"token":       token,
			"field_name":  helpers["field"].(string),
			"header_name": helpers["header"].(string),
		})
	}
}
