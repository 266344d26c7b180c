package authclient

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// State is the authentication state of one application or widget instance.
// User presence is the only authentication predicate.
type State struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
	IsLoading    bool   `json:"isLoading"`
	Error        string `json:"error,omitempty"`
	Notice       string `json:"notice,omitempty"`
}

// IsAuthenticated reports whether a user is logged in.
func (s State) IsAuthenticated() bool {
	return s.User != nil
}

// ActionType names a state transition.
type ActionType string

const (
	ActionLoginStart      ActionType = "LOGIN_START"
	ActionLoginSuccess    ActionType = "LOGIN_SUCCESS"
	ActionLoginFailure    ActionType = "LOGIN_FAILURE"
	ActionLogout          ActionType = "LOGOUT"
	ActionRefreshToken    ActionType = "REFRESH_TOKEN"
	ActionSetLoading      ActionType = "SET_LOADING"
	ActionRegisterSuccess ActionType = "REGISTER_SUCCESS"
	ActionClearMessages   ActionType = "CLEAR_MESSAGES"
)

// Action is dispatched to a Machine and applied through Reduce.
type Action interface {
	Type() ActionType
}

type LoginStart struct{}

type LoginSuccess struct {
	User         *User
	AccessToken  string
	RefreshToken string
}

type LoginFailure struct {
	Message string
}

type Logout struct{}

type RefreshTokens struct {
	AccessToken  string
	RefreshToken string
}

type SetLoading struct {
	Loading bool
}

// RegisterSuccess carries the informational message shown after a
// registration that still requires email verification.
type RegisterSuccess struct {
	Message string
}

type ClearMessages struct{}

func (LoginStart) Type() ActionType      { return ActionLoginStart }
func (LoginSuccess) Type() ActionType    { return ActionLoginSuccess }
func (LoginFailure) Type() ActionType    { return ActionLoginFailure }
func (Logout) Type() ActionType          { return ActionLogout }
func (RefreshTokens) Type() ActionType   { return ActionRefreshToken }
func (SetLoading) Type() ActionType      { return ActionSetLoading }
func (RegisterSuccess) Type() ActionType { return ActionRegisterSuccess }
func (ClearMessages) Type() ActionType   { return ActionClearMessages }

// Reduce applies action to state. It is pure and total: unknown actions
// return state unchanged.
func Reduce(state State, action Action) State {
	switch a := action.(type) {
	case LoginStart:
		state.IsLoading = true
		state.Error = ""
		state.Notice = ""
	case LoginSuccess:
		state.IsLoading = false
		state.User = a.User.Clone()
		state.AccessToken = a.AccessToken
		state.RefreshToken = a.RefreshToken
		state.Error = ""
		state.Notice = ""
	case LoginFailure:
		state.IsLoading = false
		state.Error = a.Message
		state.Notice = ""
	case Logout:
		return State{}
	case RefreshTokens:
		state.AccessToken = a.AccessToken
		state.RefreshToken = a.RefreshToken
	case SetLoading:
		state.IsLoading = a.Loading
	case RegisterSuccess:
		state.IsLoading = false
		state.Error = ""
		state.Notice = a.Message
	case ClearMessages:
		state.Error = ""
		state.Notice = ""
	}
	return state
}

// Listener observes every dispatched action together with the resulting state.
type Listener func(action Action, state State)

// MachineOption customizes a Machine.
type MachineOption func(*Machine)

// WithMachineCodec overrides the codec used to decode stored tokens.
func WithMachineCodec(codec *Codec) MachineOption {
	return func(m *Machine) {
		if codec != nil {
			m.codec = codec
		}
	}
}

// WithMachineLogger overrides the machine logger.
func WithMachineLogger(logger Logger) MachineOption {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithValidator makes Bootstrap verify the stored access token before
// trusting its embedded user. Without one, claims are advisory until the
// resource server rejects the token.
func WithValidator(validator TokenValidator) MachineOption {
	return func(m *Machine) {
		m.validator = validator
	}
}

// WithMachineActivitySink sets the sink receiving session events.
func WithMachineActivitySink(sink ActivitySink) MachineOption {
	return func(m *Machine) {
		m.activitySink = normalizeActivitySink(sink)
	}
}

// WithMachineClock injects a custom clock (useful for tests).
func WithMachineClock(clock func() time.Time) MachineOption {
	return func(m *Machine) {
		if clock != nil {
			m.now = clock
		}
	}
}

// Machine owns the State of one application or widget instance. It is safe
// for concurrent use.
type Machine struct {
	service      *Service
	store        *TokenStore
	codec        *Codec
	validator    TokenValidator
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time

	mu        sync.Mutex
	state     State
	listeners map[uint64]Listener
	nextID    uint64
	seq       uint64

	// persistMu orders store writes against Logout so a superseded flow can
	// not write tokens back after the store was cleared.
	persistMu sync.Mutex

	refreshGroup singleflight.Group
}

// NewMachine returns a logged out machine driving service and persisting
// tokens into store. A nil store disables persistence.
func NewMachine(service *Service, store *TokenStore, opts ...MachineOption) *Machine {
	m := &Machine{
		service:      service,
		store:        store,
		codec:        NewCodec(),
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
		listeners:    map[uint64]Listener{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.store == nil {
		m.store = NewTokenStore(nil, WithStoreLogger(m.logger))
	}
	return m
}

// State returns a snapshot of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.state
	state.User = state.User.Clone()
	return state
}

// Store returns the token store backing the machine.
func (m *Machine) Store() *TokenStore {
	return m.store
}

// Service returns the auth service driven by the machine.
func (m *Machine) Service() *Service {
	return m.service
}

// Subscribe registers l and returns a function removing it.
func (m *Machine) Subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Dispatch applies action and notifies listeners with the resulting state.
func (m *Machine) Dispatch(action Action) State {
	state, _ := m.dispatch(action, false, 0)
	return state
}

// dispatchIf applies action only when seq is still the current flow.
func (m *Machine) dispatchIf(action Action, seq uint64) (State, bool) {
	return m.dispatch(action, true, seq)
}

func (m *Machine) dispatch(action Action, guarded bool, seq uint64) (State, bool) {
	m.mu.Lock()
	if guarded && seq != m.seq {
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("dropping stale action", "action", action.Type(), "seq", seq)
		return state, false
	}
	m.state = Reduce(m.state, action)
	state := m.state
	listeners := make([]Listener, 0, len(m.listeners))
	for id := uint64(1); id <= m.nextID; id++ {
		if l, ok := m.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(action, state)
	}
	return state, true
}

// current returns the sequence of the flow in progress.
func (m *Machine) current() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

// persist saves tokens only while seq is still the current flow.
func (m *Machine) persist(ctx context.Context, seq uint64, access, refresh string) bool {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if m.current() != seq {
		return false
	}
	m.store.Save(ctx, access, refresh)
	return true
}

// begin starts a new user facing flow, superseding any in flight one.
func (m *Machine) begin() uint64 {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()
	m.Dispatch(LoginStart{})
	return seq
}
