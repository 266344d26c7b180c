package authclient

import (
	"context"
)

// Bootstrap rebuilds the session from stored tokens. It runs a single
// attempt: a live access token is trusted locally, otherwise exactly one
// refresh is tried and any failure ends in a logged out state with the store
// cleared.
func (m *Machine) Bootstrap(ctx context.Context) State {
	tokens := m.store.Load(ctx)
	if tokens.Access == "" {
		if tokens.Refresh != "" {
			m.store.Clear(ctx)
		}
		return m.State()
	}

	if m.codec.IsLive(tokens.Access) {
		user, err := m.trust(ctx, tokens.Access)
		if err == nil {
			m.Dispatch(LoginSuccess{User: user, AccessToken: tokens.Access, RefreshToken: tokens.Refresh})
			m.record(ctx, ActivityEventSessionRestored, user, nil)
			return m.State()
		}
		m.logger.Warn("stored access token rejected", "error", err)
	}

	if _, err := m.RefreshToken(ctx); err != nil {
		m.logger.Debug("bootstrap refresh failed", "error", err)
	}
	return m.State()
}

// trust returns the user embedded in token, verifying it first when the
// machine has a validator.
func (m *Machine) trust(ctx context.Context, token string) (*User, error) {
	if m.validator == nil {
		return m.codec.Decode(token)
	}

	claims, err := m.validator.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if claims.User == nil {
		return nil, newError(ErrInvalidTokenFormat, "", nil)
	}
	if role, ok := ParseRole(string(claims.User.Role)); ok {
		claims.User.Role = role
	}
	return claims.User, nil
}

// Login signs the user in. Failures never escape, they land in State.Error.
func (m *Machine) Login(ctx context.Context, email, password string) State {
	seq := m.begin()

	res, err := m.service.Login(ctx, email, password)
	if err != nil {
		m.dispatchIf(LoginFailure{Message: ErrorMessage(err, "Login failed")}, seq)
		m.record(ctx, ActivityEventLoginFailure, nil, map[string]any{
			"email": SanitizeInput(email, 254),
		})
		return m.State()
	}

	if !m.persist(ctx, seq, res.AccessToken, res.RefreshToken) {
		return m.State()
	}
	if _, ok := m.dispatchIf(LoginSuccess{
		User:         res.User,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	}, seq); ok {
		m.record(ctx, ActivityEventLoginSuccess, res.User, nil)
	}
	return m.State()
}

// Register creates an account. Success does not sign the user in; the
// verification prompt is surfaced through State.Notice.
func (m *Machine) Register(ctx context.Context, req RegisterRequest) State {
	seq := m.begin()

	res, err := m.service.Register(ctx, req)
	if err != nil {
		m.dispatchIf(LoginFailure{Message: ErrorMessage(err, "Registration failed")}, seq)
		return m.State()
	}

	if _, ok := m.dispatchIf(RegisterSuccess{Message: res.Message}, seq); ok {
		m.record(ctx, ActivityEventRegistered, nil, map[string]any{
			"email": SanitizeInput(req.Email, 254),
		})
	}
	return m.State()
}

// SendVerificationEmail requests a new verification code for email.
func (m *Machine) SendVerificationEmail(ctx context.Context, email string) State {
	seq := m.begin()

	msg, err := m.service.SendVerificationEmail(ctx, email)
	if err != nil {
		m.dispatchIf(LoginFailure{Message: ErrorMessage(err, "Failed to send verification email")}, seq)
		return m.State()
	}
	m.dispatchIf(RegisterSuccess{Message: msg}, seq)
	return m.State()
}

// VerifyEmail redeems a verification code.
func (m *Machine) VerifyEmail(ctx context.Context, email, code string) State {
	seq := m.begin()

	msg, err := m.service.VerifyEmail(ctx, email, code)
	if err != nil {
		m.dispatchIf(LoginFailure{Message: ErrorMessage(err, "Email verification failed")}, seq)
		return m.State()
	}

	if _, ok := m.dispatchIf(RegisterSuccess{Message: msg}, seq); ok {
		m.record(ctx, ActivityEventEmailVerified, nil, map[string]any{
			"email": SanitizeInput(email, 254),
		})
	}
	return m.State()
}

// HandleOAuthCallback completes an OAuth redirect flow started with
// Service.InitiateOAuthLogin.
func (m *Machine) HandleOAuthCallback(ctx context.Context, provider, code, state string) State {
	seq := m.begin()

	res, err := m.service.HandleOAuthCallback(ctx, provider, code, state)
	if err != nil {
		m.dispatchIf(LoginFailure{Message: ErrorMessage(err, "OAuth login failed")}, seq)
		m.record(ctx, ActivityEventLoginFailure, nil, map[string]any{"provider": provider})
		return m.State()
	}

	if !m.persist(ctx, seq, res.AccessToken, res.RefreshToken) {
		return m.State()
	}
	if _, ok := m.dispatchIf(LoginSuccess{
		User:         res.User,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	}, seq); ok {
		m.record(ctx, ActivityEventSocialLogin, res.User, map[string]any{"provider": provider})
	}
	return m.State()
}

// Logout clears the store and resets the state. It never fails and calling
// it repeatedly leaves the same terminal state. Any in flight login is
// superseded.
func (m *Machine) Logout(ctx context.Context) {
	m.persistMu.Lock()
	m.mu.Lock()
	m.seq++
	user := m.state.User.Clone()
	m.mu.Unlock()
	m.store.Clear(ctx)
	m.persistMu.Unlock()

	m.Dispatch(Logout{})
	if user != nil {
		m.record(ctx, ActivityEventLogout, user, nil)
	}
}

// RefreshToken exchanges the stored refresh token for a new pair. Any
// failure degrades to a full Logout; the error is still returned for
// programmatic callers. Concurrent calls for the same refresh token share a
// single request. A result that arrives after a Logout or a newer login is
// discarded with ErrSessionSuperseded and leaves the newer session alone.
func (m *Machine) RefreshToken(ctx context.Context) (*TokenPair, error) {
	refresh := m.store.Load(ctx).Refresh
	if refresh == "" {
		refresh = m.State().RefreshToken
	}
	if refresh == "" {
		m.Logout(ctx)
		return nil, newError(ErrNoRefreshToken, "", nil)
	}

	seq := m.current()
	v, err, _ := m.refreshGroup.Do(refresh, func() (any, error) {
		pair, err := m.service.RefreshToken(ctx, refresh)
		if err != nil {
			return nil, err
		}

		if !m.persist(ctx, seq, pair.AccessToken, pair.RefreshToken) {
			m.logger.Debug("discarding refresh result, session changed")
			return nil, newError(ErrSessionSuperseded, "", nil)
		}

		if _, ok := m.dispatchIf(RefreshTokens{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, seq); !ok {
			return nil, newError(ErrSessionSuperseded, "", nil)
		}
		user, derr := m.codec.Decode(pair.AccessToken)
		if derr != nil {
			m.logger.Warn("refreshed access token carries no user", "error", derr)
		} else {
			m.dispatchIf(LoginSuccess{User: user, AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, seq)
		}
		m.record(ctx, ActivityEventTokenRefreshed, user, nil)
		return pair, nil
	})
	if err != nil {
		if IsError(err, ErrSessionSuperseded) {
			return nil, err
		}
		if m.current() != seq {
			m.logger.Debug("refresh failed after session changed", "error", err)
			return nil, newError(ErrSessionSuperseded, "", err)
		}
		m.record(ctx, ActivityEventRefreshFailure, m.State().User, nil)
		m.Logout(ctx)
		return nil, err
	}

	pair := *(v.(*TokenPair))
	return &pair, nil
}
