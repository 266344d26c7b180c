// Package widget hosts the auth flow inside a container element of a
// Document. Every Host owns its own Service, TokenStore and Machine, so
// several widgets can live on one page without sharing callbacks or state.
// Over HTTP each browser session gets a Machine of its own as well.
package widget

import (
	"context"
	"net/http"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-auth-client"
	"github.com/google/uuid"
)

const (
	DefaultTheme      = "light"
	DefaultPathPrefix = "/widgets"

	themeClassPrefix = "ist-auth-theme-"
)

// Config configures a widget instance.
type Config struct {
	ContainerID  string
	APIURL       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Theme        string

	OnSuccess func(authclient.TokenPair)
	OnError   func(message string)
}

// Validate checks the required fields.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ContainerID, validation.Required.Error("containerId is required")),
		validation.Field(&c.APIURL, validation.Required.Error("apiUrl is required"), authclient.AbsoluteURL),
		validation.Field(&c.ClientID, validation.Required.Error("clientId is required")),
	)
}

// Host is a widget instance bound to one container element.
type Host struct {
	id     string
	config Config
	doc    Document

	logger           authclient.Logger
	storage          authclient.Storage
	httpClient       *http.Client
	activitySink     authclient.ActivitySink
	listeners        []authclient.Listener
	sessionListeners []func() (authclient.Listener, func())
	sessionLimit     int
	verifyWithServer bool
	verifySignatures bool
	pathPrefix       string

	mu          sync.Mutex
	element     Element
	themeClass  string
	machine     *authclient.Machine
	release     func()
	sessions    *Sessions
	controller  *Controller
}

// Option customizes a Host.
type Option func(*Host)

// WithLogger sets the logger shared by the host and its auth components.
func WithLogger(logger authclient.Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithStorage sets the token storage backend. Keys are namespaced by
// container id.
func WithStorage(storage authclient.Storage) Option {
	return func(h *Host) {
		if storage != nil {
			h.storage = storage
		}
	}
}

// WithHTTPClient overrides the client used to reach the identity provider.
func WithHTTPClient(client *http.Client) Option {
	return func(h *Host) {
		if client != nil {
			h.httpClient = client
		}
	}
}

// WithActivitySink receives the session events of this widget.
func WithActivitySink(sink authclient.ActivitySink) Option {
	return func(h *Host) {
		h.activitySink = sink
	}
}

// WithListener subscribes l to every state machine of the widget, the host
// machine and each browser session.
func WithListener(l authclient.Listener) Option {
	return func(h *Host) {
		if l != nil {
			h.listeners = append(h.listeners, l)
		}
	}
}

// WithSessionListener calls fn for every state machine the widget creates
// and subscribes the returned listener. The returned func runs when that
// machine is released.
func WithSessionListener(fn func() (authclient.Listener, func())) Option {
	return func(h *Host) {
		if fn != nil {
			h.sessionListeners = append(h.sessionListeners, fn)
		}
	}
}

// WithSessionLimit bounds the browser sessions kept in memory.
func WithSessionLimit(limit int) Option {
	return func(h *Host) {
		h.sessionLimit = limit
	}
}

// WithServerVerification redeems verification codes against the identity
// provider instead of the local demo code.
func WithServerVerification() Option {
	return func(h *Host) {
		h.verifyWithServer = true
	}
}

// WithSignatureVerification verifies stored access tokens against the
// identity provider JWKS before restoring a session.
func WithSignatureVerification() Option {
	return func(h *Host) {
		h.verifySignatures = true
	}
}

// WithPathPrefix sets the URL prefix the widget Page is registered under.
func WithPathPrefix(prefix string) Option {
	return func(h *Host) {
		if prefix != "" {
			h.pathPrefix = "/" + strings.Trim(prefix, "/")
		}
	}
}

// New validates cfg and returns an unmounted host.
func New(cfg Config, doc Document, opts ...Option) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, widgetError(ErrInvalidConfiguration, err.Error(), err, nil)
	}

	cfg.ContainerID = authclient.SanitizeIdentifier(cfg.ContainerID)
	if cfg.ContainerID == "" {
		return nil, widgetError(ErrInvalidConfiguration, "containerId has no valid characters", nil, nil)
	}
	if doc == nil {
		return nil, widgetError(ErrInvalidConfiguration, "document is required", nil, nil)
	}
	if cfg.Theme == "" {
		cfg.Theme = DefaultTheme
	}

	h := &Host{
		id:         uuid.NewString(),
		config:     cfg,
		doc:        doc,
		logger:     nopLogger{},
		pathPrefix: DefaultPathPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.storage == nil {
		h.storage = authclient.NewMemoryStorage()
	}
	return h, nil
}

// Init creates a host and mounts it.
func Init(ctx context.Context, cfg Config, doc Document, opts ...Option) (*Host, error) {
	h, err := New(cfg, doc, opts...)
	if err != nil {
		return nil, err
	}
	if err := h.Init(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Init resolves the container, restores any stored session and mounts the
// widget view. Nothing is mounted when it fails.
func (h *Host) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.element != nil {
		return widgetError(ErrAlreadyMounted, "", nil, map[string]any{"container": h.config.ContainerID})
	}

	el, ok := h.doc.ElementByID(h.config.ContainerID)
	if !ok || el == nil {
		h.logger.Error("widget container not found", "container", h.config.ContainerID)
		return widgetError(ErrContainerNotFound,
			"Container element with ID '"+h.config.ContainerID+"' not found", nil,
			map[string]any{"container": h.config.ContainerID})
	}

	themeClass := themeClassPrefix + authclient.SanitizeIdentifier(h.config.Theme)
	el.AddClass(themeClass)

	machine, release := h.newMachine(h.config.ContainerID)
	machine.Bootstrap(ctx)

	sessions := NewSessions(func(id string) (*authclient.Machine, func()) {
		return h.newMachine(h.config.ContainerID + ":" + id)
	}, h.sessionLimit, h.logger)

	basePath := h.pathPrefix + "/" + h.config.ContainerID
	controller := NewController(sessions, ControllerConfig{
		ContainerID: h.config.ContainerID,
		Theme:       h.config.Theme,
		BasePath:    basePath,
	}, h.logger)

	if err := el.Mount(controller); err != nil {
		release()
		el.RemoveClass(themeClass)
		h.logger.Error("widget mount failed", "container", h.config.ContainerID, "error", err)
		return widgetError(ErrMountFailed, "", err, map[string]any{"container": h.config.ContainerID})
	}

	h.element = el
	h.themeClass = themeClass
	h.machine = machine
	h.release = release
	h.sessions = sessions
	h.controller = controller

	h.logger.Info("widget mounted", "container", h.config.ContainerID, "instance", h.id)
	return nil
}

// newMachine wires a Service, TokenStore and Machine whose storage keys live
// under namespace. The returned func unsubscribes the listeners and closes
// the service.
func (h *Host) newMachine(namespace string) (*authclient.Machine, func()) {
	store := authclient.NewTokenStore(h.storage,
		authclient.WithStoreNamespace(namespace),
		authclient.WithStoreLogger(h.logger),
	)

	serviceOpts := []authclient.ServiceOption{
		authclient.WithServiceLogger(h.logger),
		authclient.WithServiceStore(store),
	}
	if h.httpClient != nil {
		serviceOpts = append(serviceOpts, authclient.WithHTTPClient(h.httpClient))
	}
	service := authclient.NewService(authclient.ServiceConfig{
		BaseURL:          h.config.APIURL,
		ClientID:         h.config.ClientID,
		ClientSecret:     h.config.ClientSecret,
		RedirectURI:      h.config.RedirectURI,
		VerifyWithServer: h.verifyWithServer,
		OnSuccess:        h.config.OnSuccess,
		OnError:          h.config.OnError,
	}, serviceOpts...)

	machineOpts := []authclient.MachineOption{
		authclient.WithMachineLogger(h.logger),
		authclient.WithMachineActivitySink(h.activitySink),
	}
	if h.verifySignatures {
		machineOpts = append(machineOpts, authclient.WithValidator(authclient.NewJWKSValidator(service)))
	}
	machine := authclient.NewMachine(service, store, machineOpts...)

	cleanup := make([]func(), 0, len(h.listeners)+2*len(h.sessionListeners))
	for _, l := range h.listeners {
		cleanup = append(cleanup, machine.Subscribe(l))
	}
	for _, fn := range h.sessionListeners {
		l, done := fn()
		if l != nil {
			cleanup = append(cleanup, machine.Subscribe(l))
		}
		if done != nil {
			cleanup = append(cleanup, done)
		}
	}

	var once sync.Once
	return machine, func() {
		once.Do(func() {
			for _, fn := range cleanup {
				fn()
			}
			service.Close()
		})
	}
}

// Destroy unmounts the widget. The theme class is always removed and the
// service closed, even when unmounting fails or panics. It never returns an
// error and is safe to call more than once.
func (h *Host) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.element == nil {
		return
	}

	defer func() {
		h.element.RemoveClass(h.themeClass)
		h.sessions.Close()
		h.release()

		h.element = nil
		h.themeClass = ""
		h.machine = nil
		h.release = nil
		h.sessions = nil
		h.controller = nil
		h.logger.Info("widget destroyed", "container", h.config.ContainerID, "instance", h.id)
	}()

	h.unmount()
}

func (h *Host) unmount() {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("widget unmount panicked", "container", h.config.ContainerID, "panic", r)
		}
	}()
	if err := h.element.Unmount(); err != nil {
		h.logger.Error("widget unmount failed", "container", h.config.ContainerID, "error", err)
	}
}

// ID returns the unique instance id.
func (h *Host) ID() string {
	return h.id
}

// ContainerID returns the sanitised container id.
func (h *Host) ContainerID() string {
	return h.config.ContainerID
}

// Mounted reports whether Init succeeded and Destroy has not run since.
func (h *Host) Mounted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.element != nil
}

// Machine returns the host state machine of a mounted widget, nil otherwise.
// Browser sessions served over HTTP have machines of their own.
func (h *Host) Machine() *authclient.Machine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.machine
}

// Controller returns the mounted view, nil otherwise.
func (h *Host) Controller() *Controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.controller
}

// Sessions returns the browser sessions of a mounted widget, nil otherwise.
func (h *Host) Sessions() *Sessions {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions
}

// State returns the host machine state, zero when not mounted.
func (h *Host) State() authclient.State {
	m := h.Machine()
	if m == nil {
		return authclient.State{}
	}
	return m.State()
}
