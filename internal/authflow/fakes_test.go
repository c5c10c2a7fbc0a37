package authflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/alecgard/riff/internal/identity"
	"github.com/alecgard/riff/internal/user"
)

// fakeIDP is a scripted identity provider. Zero values behave like a provider
// with an empty cache and nothing pending.
type fakeIDP struct {
	mu sync.Mutex

	initErr      error
	pending      bool
	redirectAcct *identity.Account
	redirectErr  error
	accounts     []identity.Account
	active       string
	setActiveErr error

	popupAcct *identity.Account
	popupErr  error

	silentTok   *identity.Token
	silentErr   error
	silentHook  func(ctx context.Context)
	tokPopupTok *identity.Token
	tokPopupErr error

	logoutErr  error
	logoutHook func()

	redirectReqs []identity.LoginRequest
	popupReqs    []identity.LoginRequest
	calls        map[string]int
}

func (f *fakeIDP) count(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
}

func (f *fakeIDP) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeIDP) Initialize(context.Context) error {
	f.count("Initialize")
	return f.initErr
}

func (f *fakeIDP) PendingRedirect() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *fakeIDP) HandleRedirectCompletion(context.Context) (*identity.Account, error) {
	f.count("HandleRedirectCompletion")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = false
	if f.redirectErr != nil {
		return nil, f.redirectErr
	}
	if f.redirectAcct != nil {
		f.cacheLocked(*f.redirectAcct)
	}
	return f.redirectAcct, nil
}

func (f *fakeIDP) cacheLocked(a identity.Account) {
	if !slices.ContainsFunc(f.accounts, func(c identity.Account) bool { return c.ID == a.ID }) {
		f.accounts = append(f.accounts, a)
	}
}

func (f *fakeIDP) LoginRedirect(_ context.Context, req identity.LoginRequest) error {
	f.count("LoginRedirect")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redirectReqs = append(f.redirectReqs, req)
	return nil
}

func (f *fakeIDP) LoginPopup(_ context.Context, req identity.LoginRequest) (*identity.Account, error) {
	f.count("LoginPopup")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.popupReqs = append(f.popupReqs, req)
	if f.popupErr != nil {
		return nil, f.popupErr
	}
	f.cacheLocked(*f.popupAcct)
	return f.popupAcct, nil
}

func (f *fakeIDP) LogoutRedirect(_ context.Context, acct *identity.Account) error {
	f.count("LogoutRedirect")
	if f.logoutHook != nil {
		f.logoutHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts = slices.DeleteFunc(f.accounts, func(a identity.Account) bool { return a.ID == acct.ID })
	if f.active == acct.ID {
		f.active = ""
	}
	return f.logoutErr
}

func (f *fakeIDP) AcquireTokenSilent(ctx context.Context, _ []string, _ *identity.Account) (*identity.Token, error) {
	f.count("AcquireTokenSilent")
	if f.silentHook != nil {
		f.silentHook(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.silentErr != nil {
		return nil, f.silentErr
	}
	return f.silentTok, nil
}

func (f *fakeIDP) AcquireTokenPopup(context.Context, []string, *identity.Account) (*identity.Token, error) {
	f.count("AcquireTokenPopup")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokPopupErr != nil {
		return nil, f.tokPopupErr
	}
	return f.tokPopupTok, nil
}

func (f *fakeIDP) AllAccounts() []identity.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]identity.Account, len(f.accounts))
	for i, a := range f.accounts {
		a.IsActive = a.ID == f.active
		out[i] = a
	}
	return out
}

func (f *fakeIDP) ActiveAccount() *identity.Account {
	for _, a := range f.AllAccounts() {
		if a.IsActive {
			return &a
		}
	}
	return nil
}

func (f *fakeIDP) SetActiveAccount(acct *identity.Account) error {
	f.count("SetActiveAccount")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setActiveErr != nil {
		return f.setActiveErr
	}
	if acct == nil {
		f.active = ""
		return nil
	}
	f.active = acct.ID
	return nil
}

// fakeUsers enforces unique emails under a mutex, like the users table.
type fakeUsers struct {
	mu      sync.Mutex
	byEmail map[string]*user.User
	nextID  int

	createErr error
	lookupErr error
	updateErr error
	// beforeCreate runs outside the lock, to line up concurrent creates.
	beforeCreate func()

	creates []user.CreateUserInput
	lookups []string
	updates []string
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byEmail: make(map[string]*user.User)}
}

func (s *fakeUsers) seed(name, email string) *user.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u := &user.User{ID: fmt.Sprintf("user-%d", s.nextID), Name: name, Email: email, Role: user.RoleMember}
	s.byEmail[strings.ToLower(email)] = u
	return u
}

func (s *fakeUsers) Create(_ context.Context, in user.CreateUserInput) (*user.User, error) {
	if s.beforeCreate != nil {
		s.beforeCreate()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creates = append(s.creates, in)
	if s.createErr != nil {
		return nil, s.createErr
	}
	key := strings.ToLower(in.Email)
	if existing, ok := s.byEmail[key]; ok {
		cp := *existing
		return nil, &user.ConflictError{Email: in.Email, Existing: &cp}
	}
	s.nextID++
	u := &user.User{ID: fmt.Sprintf("user-%d", s.nextID), Name: in.DisplayName(), Email: key, Role: user.RoleMember}
	s.byEmail[key] = u
	cp := *u
	return &cp, nil
}

func (s *fakeUsers) LookupByEmail(_ context.Context, email string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, email)
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	u, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeUsers) LookupByID(_ context.Context, id string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byEmail {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (s *fakeUsers) Update(_ context.Context, id string, in user.UpdateUserInput) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, id)
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	for _, u := range s.byEmail {
		if u.ID == id {
			if in.Phone != nil {
				p := *in.Phone
				u.Phone = &p
			}
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (s *fakeUsers) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byEmail)
}

type fakeValidator struct {
	mu      sync.Mutex
	bad     map[string]bool
	checked []string
}

func (v *fakeValidator) ValidateAuthority(_ context.Context, authority string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.checked = append(v.checked, authority)
	if v.bad[authority] {
		return errors.New("discovery document not found")
	}
	return nil
}
