// Package authflow turns identity-provider sign-ins into a signed-in backend
// user. It is the only writer of the session store.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/alecgard/riff/internal/identity"
	"github.com/alecgard/riff/internal/session"
	"github.com/alecgard/riff/internal/tokencache"
	"github.com/alecgard/riff/internal/user"
)

// IdentityProvider is the browser-driven OpenID Connect client.
type IdentityProvider interface {
	Initialize(ctx context.Context) error
	PendingRedirect() bool
	HandleRedirectCompletion(ctx context.Context) (*identity.Account, error)
	LoginRedirect(ctx context.Context, req identity.LoginRequest) error
	LoginPopup(ctx context.Context, req identity.LoginRequest) (*identity.Account, error)
	LogoutRedirect(ctx context.Context, acct *identity.Account) error
	AcquireTokenSilent(ctx context.Context, scopes []string, acct *identity.Account) (*identity.Token, error)
	AcquireTokenPopup(ctx context.Context, scopes []string, acct *identity.Account) (*identity.Token, error)
	AllAccounts() []identity.Account
	ActiveAccount() *identity.Account
	SetActiveAccount(acct *identity.Account) error
}

// UserStore is the backend's user collection. Create must fail with an error
// matching user.ErrConflict when the email is taken.
type UserStore interface {
	Create(ctx context.Context, in user.CreateUserInput) (*user.User, error)
	LookupByEmail(ctx context.Context, email string) (*user.User, error)
	LookupByID(ctx context.Context, id string) (*user.User, error)
	Update(ctx context.Context, id string, in user.UpdateUserInput) (*user.User, error)
}

// AuthorityValidator checks that an authority serves OpenID discovery.
type AuthorityValidator interface {
	ValidateAuthority(ctx context.Context, authority string) error
}

// FederatedAuthority is a candidate secondary authority and the client id it
// is registered for.
type FederatedAuthority struct {
	Authority string
	ClientID  string
}

// Config holds sign-in settings.
type Config struct {
	ClientID  string
	APIScope  string
	Federated []FederatedAuthority
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Provider IdentityProvider
	Users    UserStore
	Session  *session.Writer
	// Tokens defaults to an empty cache.
	Tokens *tokencache.Cache
	// Validator defaults to Provider when it implements AuthorityValidator.
	Validator AuthorityValidator
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	idp       IdentityProvider
	users     UserStore
	writer    *session.Writer
	store     *session.Store
	tokens    *tokencache.Cache
	validator AuthorityValidator
	cfg       Config

	flight singleflight.Group

	mu      sync.Mutex
	state   State
	lastErr error
}

// New builds an orchestrator in the Unauthenticated state.
func New(deps Deps, cfg Config) *Orchestrator {
	tokens := deps.Tokens
	if tokens == nil {
		tokens = tokencache.New(0)
	}
	validator := deps.Validator
	if validator == nil {
		validator, _ = deps.Provider.(AuthorityValidator)
	}
	return &Orchestrator{
		idp:       deps.Provider,
		users:     deps.Users,
		writer:    deps.Session,
		store:     deps.Session.Store(),
		tokens:    tokens,
		validator: validator,
		cfg:       cfg,
		state:     Unauthenticated,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastError returns the most recent failure, if any.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Session returns the read handle of the session the orchestrator writes.
func (o *Orchestrator) Session() *session.Store {
	return o.store
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != s {
		slog.Debug("auth state", "from", o.state.String(), "to", s.String())
	}
	o.state = s
}

// settle moves to the stable state that matches the session.
func (o *Orchestrator) settle() {
	if o.store.IsAuthenticated() {
		o.setState(Authenticated)
		return
	}
	o.setState(Unauthenticated)
}

func (o *Orchestrator) recordError(err error) {
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()
}

// fail records err, passes through Failed and settles.
func (o *Orchestrator) fail(err error) {
	o.recordError(err)
	o.setState(Failed)
	if errors.Is(err, identity.ErrPopupClosed) {
		slog.Debug("sign-in abandoned", "error", err)
	} else {
		slog.Warn("sign-in failed", "error", err)
	}
	o.settle()
}

func (o *Orchestrator) loginScopes() []string {
	scopes := []string{"openid", "profile", "email"}
	if o.cfg.APIScope != "" {
		scopes = append(scopes, o.cfg.APIScope)
	}
	return scopes
}

// APIScopes are the scopes requested for backend calls.
func (o *Orchestrator) APIScopes() []string {
	if o.cfg.APIScope != "" {
		return []string{o.cfg.APIScope}
	}
	return o.loginScopes()
}

// Initialize resumes whatever sign-in the process was started into: a
// redirect completion, or an account left in the provider's cache. A provider
// that cannot initialize leaves the user signed out without an error.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if err := o.idp.Initialize(ctx); err != nil {
		o.recordError(err)
		slog.Warn("identity provider unavailable, continuing signed out", "error", err)
		o.setState(Unauthenticated)
		return nil
	}

	var acct *identity.Account
	if o.idp.PendingRedirect() {
		o.setState(RedirectPending)
		a, err := o.idp.HandleRedirectCompletion(ctx)
		if err != nil {
			o.recordError(err)
			slog.Warn("redirect sign-in could not be completed", "error", err)
		}
		acct = a
	}

	if acct == nil {
		accounts := o.idp.AllAccounts()
		if len(accounts) == 0 || o.idp.ActiveAccount() != nil {
			o.settle()
			return nil
		}
		first := accounts[0]
		if err := o.idp.SetActiveAccount(&first); err != nil {
			o.fail(err)
			return fmt.Errorf("activating cached account: %w", err)
		}
		acct = &first
	}

	o.setState(Reconciling)
	if _, err := o.complete(ctx, *acct); err != nil {
		return err
	}
	return nil
}

// complete reconciles acct, marks it active and signs the user in.
func (o *Orchestrator) complete(ctx context.Context, acct identity.Account) (*user.User, error) {
	u, err := o.resolveUser(ctx, acct)
	if err == nil {
		if aerr := o.idp.SetActiveAccount(&acct); aerr != nil {
			err = fmt.Errorf("activating account %s: %w", acct.ID, aerr)
		}
	}
	if err != nil {
		// An account activated only for this attempt must not linger.
		if active := o.idp.ActiveAccount(); active != nil && active.ID == acct.ID && o.store.AccountID() != acct.ID {
			_ = o.idp.SetActiveAccount(nil)
		}
		o.fail(err)
		return nil, err
	}

	o.writer.SetCurrentUser(u, acct.ID)
	o.setState(Authenticated)
	slog.Info("signed in", "user_id", u.ID, "account_id", acct.ID)
	return u, nil
}

// Reconcile maps acct to a user record, creating one when the email is new,
// and makes it the current user. Concurrent calls for the same account
// converge on the record the user store let win.
func (o *Orchestrator) Reconcile(ctx context.Context, acct identity.Account) (*user.User, error) {
	o.setState(Reconciling)
	u, err := o.resolveUser(ctx, acct)
	if err != nil {
		o.fail(err)
		return nil, err
	}
	o.writer.SetCurrentUser(u, acct.ID)
	o.setState(Authenticated)
	return u, nil
}

// resolveUser always tries create first. The store's unique email is what
// decides a race; the loser looks the winner up.
func (o *Orchestrator) resolveUser(ctx context.Context, acct identity.Account) (*user.User, error) {
	u, err := o.users.Create(ctx, user.CreateUserInput{Name: acct.DisplayName, Email: acct.Username})
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, user.ErrConflict) || acct.Username == "" {
		return nil, &ReconcileError{AccountID: acct.ID, Op: "create user", Err: err}
	}

	u, err = o.users.LookupByEmail(ctx, acct.Username)
	if err != nil {
		return nil, &ReconcileError{AccountID: acct.ID, Op: "look up existing user", Err: err}
	}
	return u, nil
}

// SignIn starts an interactive sign-in. In redirect mode it returns nil, nil
// once the browser is on its way; the sign-in finishes in Initialize of the
// process the browser comes back to. In popup mode it returns the signed-in
// user, and a failed popup leaves the session untouched.
func (o *Orchestrator) SignIn(ctx context.Context, p Provider, mode Mode) (*user.User, error) {
	req := identity.LoginRequest{Scopes: o.loginScopes()}
	if p == ProviderFederated {
		authority, err := o.federatedAuthority(ctx)
		if err != nil {
			o.fail(err)
			return nil, err
		}
		req.Authority = authority
	}

	switch mode {
	case ModeRedirect:
		o.setState(RedirectPending)
		if err := o.idp.LoginRedirect(ctx, req); err != nil {
			o.fail(err)
			return nil, err
		}
		return nil, nil

	case ModePopup:
		acct, err := o.idp.LoginPopup(ctx, req)
		if err != nil {
			o.fail(err)
			return nil, err
		}
		o.setState(Reconciling)
		return o.complete(ctx, *acct)

	default:
		return nil, fmt.Errorf("unknown sign-in mode %d", mode)
	}
}

// federatedAuthority picks the first configured candidate registered for our
// client id that serves a discovery document.
func (o *Orchestrator) federatedAuthority(ctx context.Context) (string, error) {
	if len(o.cfg.Federated) == 0 {
		return "", &identity.ConfigurationError{Setting: "federated", Reason: "no federated authority configured"}
	}
	if o.validator == nil {
		return "", &identity.ConfigurationError{Setting: "federated", Reason: "no authority validator available"}
	}

	var problems []string
	for _, cand := range o.cfg.Federated {
		switch {
		case cand.ClientID == "":
			problems = append(problems, cand.Authority+": no client id configured")
			continue
		case cand.ClientID != o.cfg.ClientID:
			problems = append(problems, fmt.Sprintf("%s: registered for client %q, not %q", cand.Authority, cand.ClientID, o.cfg.ClientID))
			continue
		}
		if err := o.validator.ValidateAuthority(ctx, cand.Authority); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", cand.Authority, err))
			continue
		}
		return cand.Authority, nil
	}
	return "", &identity.ConfigurationError{
		Setting: "federated",
		Reason:  "no usable authority: " + strings.Join(problems, "; "),
	}
}

// SignOut clears the session before asking the provider to end its own, so
// readers see the user signed out even if that navigation never happens.
// With nobody signed in it does nothing.
func (o *Orchestrator) SignOut(ctx context.Context) error {
	snap := o.store.Snapshot()
	acct := o.idp.ActiveAccount()
	if acct == nil && snap.AccountID != "" {
		for _, a := range o.idp.AllAccounts() {
			if a.ID == snap.AccountID {
				acct = &a
				break
			}
		}
	}
	if acct == nil && !snap.IsAuthenticated {
		return nil
	}

	o.setState(SigningOut)
	o.writer.Logout()
	o.tokens.Clear()
	o.setState(Unauthenticated)

	if acct == nil {
		return nil
	}
	if err := o.idp.LogoutRedirect(ctx, acct); err != nil {
		o.recordError(err)
		slog.Warn("provider sign-out failed, signed out locally", "error", err)
		return fmt.Errorf("signing out of identity provider: %w", err)
	}
	return nil
}

// GetAccessToken returns a token for scopes belonging to the signed-in
// account. Silent acquisition is tried first; only when the provider needs
// the user is a single interactive attempt made. Concurrent callers for the
// same scopes share one acquisition.
func (o *Orchestrator) GetAccessToken(ctx context.Context, scopes []string) (string, error) {
	snap := o.store.Snapshot()
	if !snap.IsAuthenticated {
		return "", ErrNotAuthenticated
	}
	acct := o.idp.ActiveAccount()
	if acct == nil || acct.ID != snap.AccountID {
		return "", ErrAccountMismatch
	}

	if tok, ok := o.tokens.Get(acct.ID, scopes); ok {
		return tok.Value, nil
	}

	// The shared acquisition outlives any single caller; each caller stops
	// waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := o.flight.DoChan(acct.ID+"|"+identity.ScopeKey(scopes), func() (any, error) {
		return o.acquire(shared, scopes, acct)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*identity.Token).Value, nil
	case <-ctx.Done():
		return "", fmt.Errorf("acquiring token: %w", ctx.Err())
	}
}

func (o *Orchestrator) acquire(ctx context.Context, scopes []string, acct *identity.Account) (*identity.Token, error) {
	tok, err := o.idp.AcquireTokenSilent(ctx, scopes, acct)
	if errors.Is(err, identity.ErrInteractionRequired) {
		slog.Info("token needs interaction, opening sign-in window", "account_id", acct.ID)
		tok, err = o.idp.AcquireTokenPopup(ctx, scopes, acct)
	}
	if err != nil {
		return nil, fmt.Errorf("acquiring token: %w", err)
	}

	// The session may have changed hands while we were waiting.
	if tok.AccountID != acct.ID || o.store.AccountID() != acct.ID {
		return nil, ErrAccountMismatch
	}
	o.tokens.Put(scopes, tok)
	return tok, nil
}

// BearerToken is the token source for backend calls: empty when signed out.
func (o *Orchestrator) BearerToken(ctx context.Context) (string, error) {
	if !o.store.IsAuthenticated() {
		return "", nil
	}
	return o.GetAccessToken(ctx, o.APIScopes())
}

// HandleUnauthorized signs the user out locally after the backend rejected
// their credential.
func (o *Orchestrator) HandleUnauthorized() {
	if !o.store.IsAuthenticated() && o.tokens.Len() == 0 {
		return
	}
	slog.Info("backend rejected credential, signing out")
	o.writer.Logout()
	o.tokens.Clear()
	o.setState(Unauthenticated)
}

// NeedsProfile reports whether the signed-in user still has to provide a
// phone number.
func (o *Orchestrator) NeedsProfile() bool {
	u := o.store.CurrentUser()
	return u != nil && (u.Phone == nil || *u.Phone == "")
}

// CompleteProfile stores the phone number on the current user.
func (o *Orchestrator) CompleteProfile(ctx context.Context, phone string) (*user.User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, errors.New("phone number is required")
	}
	snap := o.store.Snapshot()
	if !snap.IsAuthenticated {
		return nil, ErrNotAuthenticated
	}

	u, err := o.users.Update(ctx, snap.CurrentUser.ID, user.UpdateUserInput{Phone: &phone})
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	if o.store.AccountID() != snap.AccountID {
		return nil, ErrAccountMismatch
	}
	o.writer.SetCurrentUser(u, snap.AccountID)
	return u, nil
}
