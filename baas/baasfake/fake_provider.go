package baasfake

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/neuroscan-portal/baas"
	apperrors "github.com/jrsteele09/neuroscan-portal/internal/errors"
)

// DefaultValidCode is the TOTP code the fake accepts unless ValidCode is changed.
const DefaultValidCode = "123456"

// SampleQRCode is the raw SVG the fake returns from Enroll.
const SampleQRCode = `<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><rect width="10" height="10"/></svg>`

// Op names a provider primitive for error injection and call counting.
type Op string

const (
	OpGetSession     Op = "get_session"
	OpRefreshSession Op = "refresh_session"
	OpSetSession     Op = "set_session"
	OpGetUser        Op = "get_user"
	OpSignOut        Op = "sign_out"
	OpEnroll         Op = "mfa_enroll"
	OpChallenge      Op = "mfa_challenge"
	OpVerify         Op = "mfa_verify"
	OpListFactors    Op = "mfa_list_factors"
	OpAAL            Op = "mfa_aal"
)

type account struct {
	user     baas.User
	password string
}

type grant struct {
	userID      string
	accessToken string
	level       baas.AssuranceLevel
}

var _ baas.Client = (*Provider)(nil)

// Provider is an in-memory auth provider implementing baas.Client.
type Provider struct {
	ValidCode string

	lock          sync.Mutex
	byEmail       map[string]*account
	byID          map[string]*account
	grants        map[string]*grant // keyed by refresh token
	accessTokens  map[string]string // access token -> refresh token
	challenges    map[string]string // challenge id -> factor id
	current       *baas.Session
	errs          map[Op]error
	calls         map[Op]int
	refreshEmpty  bool
	listeners     map[int]baas.AuthChangeListener
	nextListener  int
	sessionExpiry time.Duration
}

func New() *Provider {
	return &Provider{
		ValidCode:     DefaultValidCode,
		byEmail:       make(map[string]*account),
		byID:          make(map[string]*account),
		grants:        make(map[string]*grant),
		accessTokens:  make(map[string]string),
		challenges:    make(map[string]string),
		errs:          make(map[Op]error),
		calls:         make(map[Op]int),
		listeners:     make(map[int]baas.AuthChangeListener),
		sessionExpiry: time.Hour,
	}
}

func (p *Provider) AddUser(email, password string) baas.User {
	p.lock.Lock()
	defer p.lock.Unlock()
	acc := &account{
		user:     baas.User{ID: uuid.NewString(), Email: email},
		password: password,
	}
	p.byEmail[email] = acc
	p.byID[acc.user.ID] = acc
	return acc.user
}

// AddFactor registers a TOTP factor for the user directly.
func (p *Provider) AddFactor(userID string, status baas.FactorStatus) baas.Factor {
	p.lock.Lock()
	defer p.lock.Unlock()
	f := baas.Factor{ID: uuid.NewString(), FactorType: baas.FactorTypeTOTP, Status: status}
	if acc, ok := p.byID[userID]; ok {
		acc.user.Factors = append(acc.user.Factors, f)
	}
	return f
}

func (p *Provider) Factors(userID string) []baas.Factor {
	p.lock.Lock()
	defer p.lock.Unlock()
	acc, ok := p.byID[userID]
	if !ok {
		return nil
	}
	return append([]baas.Factor(nil), acc.user.Factors...)
}

// IssueSession checks credentials and mints a token pair without making it the
// client's current session, the way a backend login endpoint would.
func (p *Provider) IssueSession(email, password string) (*baas.Session, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	acc, ok := p.byEmail[email]
	if !ok || acc.password != password {
		return nil, apperrors.ErrInvalidCredentials
	}
	return p.issueLocked(acc, baas.AAL1), nil
}

// SignIn issues a session and makes it current.
func (p *Provider) SignIn(email, password string) (*baas.Session, error) {
	s, err := p.IssueSession(email, password)
	if err != nil {
		return nil, err
	}
	p.SetCurrentSession(s)
	p.EmitChange(baas.EventSignedIn, s)
	return s, nil
}

func (p *Provider) SetCurrentSession(s *baas.Session) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.current = copySession(s)
}

func (p *Provider) CurrentSession() *baas.Session {
	p.lock.Lock()
	defer p.lock.Unlock()
	return copySession(p.current)
}

// UserForAccessToken resolves a live access token, for faking a backend's /me.
func (p *Provider) UserForAccessToken(accessToken string) (baas.User, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	rt, ok := p.accessTokens[accessToken]
	if !ok {
		return baas.User{}, false
	}
	g := p.grants[rt]
	acc, ok := p.byID[g.userID]
	if !ok {
		return baas.User{}, false
	}
	return copyUser(acc.user), true
}

// FailOn makes every later call of op return err. A nil err clears it.
func (p *Provider) FailOn(op Op, err error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if err == nil {
		delete(p.errs, op)
		return
	}
	p.errs[op] = err
}

// RefreshReturnsNoSession makes RefreshSession succeed without a session.
func (p *Provider) RefreshReturnsNoSession(v bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.refreshEmpty = v
}

func (p *Provider) Calls(op Op) int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.calls[op]
}

func (p *Provider) TotalCalls() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	total := 0
	for _, n := range p.calls {
		total += n
	}
	return total
}

// EmitChange delivers an auth event to every listener, as if the provider rotated the session.
func (p *Provider) EmitChange(event baas.AuthEvent, s *baas.Session) {
	p.lock.Lock()
	listeners := make([]baas.AuthChangeListener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.lock.Unlock()

	for _, l := range listeners {
		l(event, copySession(s))
	}
}

func (p *Provider) ListenerCount() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.listeners)
}

func (p *Provider) GetSession(_ context.Context) (*baas.Session, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if err := p.beginLocked(OpGetSession); err != nil {
		return nil, err
	}
	return copySession(p.current), nil
}

func (p *Provider) RefreshSession(_ context.Context, refreshToken string) (*baas.Session, error) {
	p.lock.Lock()
	if err := p.beginLocked(OpRefreshSession); err != nil {
		p.lock.Unlock()
		return nil, err
	}
	if p.refreshEmpty {
		p.lock.Unlock()
		return nil, nil
	}
	g, ok := p.grants[refreshToken]
	if !ok {
		p.lock.Unlock()
		return nil, &baas.ProviderError{Op: string(OpRefreshSession), Status: http.StatusBadRequest, Code: "refresh_token_not_found", Message: "Invalid Refresh Token: Refresh Token Not Found"}
	}
	p.revokeLocked(refreshToken)
	s := p.issueLocked(p.byID[g.userID], g.level)
	p.current = copySession(s)
	p.lock.Unlock()

	p.EmitChange(baas.EventTokenRefreshed, s)
	return s, nil
}

func (p *Provider) SetSession(_ context.Context, accessToken, refreshToken string) (*baas.Session, error) {
	p.lock.Lock()
	if err := p.beginLocked(OpSetSession); err != nil {
		p.lock.Unlock()
		return nil, err
	}
	g, ok := p.grants[refreshToken]
	if !ok || g.accessToken != accessToken {
		p.lock.Unlock()
		return nil, &baas.ProviderError{Op: string(OpSetSession), Status: http.StatusUnauthorized, Message: "Invalid session"}
	}
	s := p.sessionLocked(refreshToken)
	p.current = copySession(s)
	p.lock.Unlock()

	p.EmitChange(baas.EventSignedIn, s)
	return s, nil
}

func (p *Provider) GetUser(_ context.Context) (*baas.User, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if err := p.beginLocked(OpGetUser); err != nil {
		return nil, err
	}
	acc, err := p.currentAccountLocked()
	if err != nil {
		return nil, err
	}
	u := copyUser(acc.user)
	return &u, nil
}

func (p *Provider) SignOut(_ context.Context) error {
	p.lock.Lock()
	if err := p.beginLocked(OpSignOut); err != nil {
		p.lock.Unlock()
		return err
	}
	if p.current != nil {
		p.revokeLocked(p.current.RefreshToken)
	}
	p.current = nil
	p.lock.Unlock()

	p.EmitChange(baas.EventSignedOut, nil)
	return nil
}

func (p *Provider) OnAuthStateChange(listener baas.AuthChangeListener) func() {
	p.lock.Lock()
	id := p.nextListener
	p.nextListener++
	p.listeners[id] = listener
	p.lock.Unlock()

	return func() {
		p.lock.Lock()
		delete(p.listeners, id)
		p.lock.Unlock()
	}
}

func (p *Provider) Enroll(_ context.Context, factorType baas.FactorType) (*baas.Enrollment, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if err := p.beginLocked(OpEnroll); err != nil {
		return nil, err
	}
	acc, err := p.currentAccountLocked()
	if err != nil {
		return nil, err
	}
	if factorType != baas.FactorTypeTOTP {
		return nil, &baas.ProviderError{Op: string(OpEnroll), Status: http.StatusBadRequest, Message: "Unsupported factor type"}
	}

	f := baas.Factor{ID: uuid.NewString(), FactorType: factorType, Status: baas.FactorStatusPending}
	acc.user.Factors = append(acc.user.Factors, f)
	return &baas.Enrollment{
		ID:   f.ID,
		Type: factorType,
		TOTP: baas.TOTPEnrollment{
			QRCode: SampleQRCode,
			Secret: "JBSWY3DPEHPK3PXP",
			URI:    "otpauth://totp/portal:" + acc.user.Email + "?secret=JBSWY3DPEHPK3PXP",
		},
	}, nil
}

func (p *Provider) Challenge(_ context.Context, factorID string) (*baas.Challenge, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if err := p.beginLocked(OpChallenge); err != nil {
		return nil, err
	}
	acc, err := p.currentAccountLocked()
	if err != nil {
		return nil, err
	}
	if factorIndex(acc.user.Factors, factorID) < 0 {
		return nil, &baas.ProviderError{Op: string(OpChallenge), Status: http.StatusNotFound, Code: "mfa_factor_not_found", Message: "Factor not found"}
	}

	id := uuid.NewString()
	p.challenges[id] = factorID
	return &baas.Challenge{ID: id, ExpiresAt: time.Now().Add(5 * time.Minute)}, nil
}

func (p *Provider) Verify(_ context.Context, factorID, challengeID, code string) (*baas.Session, error) {
	p.lock.Lock()
	if err := p.beginLocked(OpVerify); err != nil {
		p.lock.Unlock()
		return nil, err
	}
	acc, err := p.currentAccountLocked()
	if err != nil {
		p.lock.Unlock()
		return nil, err
	}
	if p.challenges[challengeID] != factorID {
		p.lock.Unlock()
		return nil, &baas.ProviderError{Op: string(OpVerify), Status: http.StatusNotFound, Code: "mfa_challenge_not_found", Message: "Challenge not found"}
	}
	switch code {
	case "":
		p.lock.Unlock()
		return nil, &baas.ProviderError{Op: string(OpVerify), Status: http.StatusBadRequest, Message: "Code needs to be non-empty"}
	case p.ValidCode:
	default:
		p.lock.Unlock()
		return nil, &baas.ProviderError{Op: string(OpVerify), Status: http.StatusUnprocessableEntity, Code: "mfa_verification_failed", Message: "Invalid TOTP code entered"}
	}

	delete(p.challenges, challengeID)
	idx := factorIndex(acc.user.Factors, factorID)
	acc.user.Factors[idx].Status = baas.FactorStatusVerified
	p.revokeLocked(p.current.RefreshToken)
	s := p.issueLocked(acc, baas.AAL2)
	p.current = copySession(s)
	p.lock.Unlock()

	p.EmitChange(baas.EventMFAChallengeVerified, s)
	return s, nil
}

func (p *Provider) ListFactors(_ context.Context) (*baas.Factors, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if err := p.beginLocked(OpListFactors); err != nil {
		return nil, err
	}
	acc, err := p.currentAccountLocked()
	if err != nil {
		return nil, err
	}
	return baas.NewFactors(acc.user.Factors), nil
}

func (p *Provider) AuthenticatorAssuranceLevel(_ context.Context) (*baas.AssuranceLevels, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if err := p.beginLocked(OpAAL); err != nil {
		return nil, err
	}
	if p.current == nil {
		return &baas.AssuranceLevels{}, nil
	}
	g, ok := p.grants[p.current.RefreshToken]
	if !ok {
		return &baas.AssuranceLevels{}, nil
	}

	levels := &baas.AssuranceLevels{Current: g.level, Next: g.level, CurrentMethods: []string{"password"}}
	if g.level == baas.AAL2 {
		levels.CurrentMethods = append(levels.CurrentMethods, "totp")
	}
	if acc, ok := p.byID[g.userID]; ok {
		for _, f := range acc.user.Factors {
			if f.Verified() {
				levels.Next = baas.AAL2
			}
		}
	}
	return levels, nil
}

func (p *Provider) beginLocked(op Op) error {
	p.calls[op]++
	return p.errs[op]
}

func (p *Provider) currentAccountLocked() (*account, error) {
	if p.current == nil {
		return nil, apperrors.ErrNoSession
	}
	g, ok := p.grants[p.current.RefreshToken]
	if !ok {
		return nil, &baas.ProviderError{Op: "session", Status: http.StatusUnauthorized, Message: "Invalid session"}
	}
	acc, ok := p.byID[g.userID]
	if !ok {
		return nil, &baas.ProviderError{Op: "session", Status: http.StatusNotFound, Message: "User not found"}
	}
	return acc, nil
}

func (p *Provider) issueLocked(acc *account, level baas.AssuranceLevel) *baas.Session {
	rt := "refresh-" + uuid.NewString()
	at := "access-" + uuid.NewString()
	p.grants[rt] = &grant{userID: acc.user.ID, accessToken: at, level: level}
	p.accessTokens[at] = rt
	return p.sessionLocked(rt)
}

func (p *Provider) sessionLocked(refreshToken string) *baas.Session {
	g := p.grants[refreshToken]
	return &baas.Session{
		AccessToken:  g.accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(p.sessionExpiry),
		User:         copyUser(p.byID[g.userID].user),
	}
}

func (p *Provider) revokeLocked(refreshToken string) {
	if g, ok := p.grants[refreshToken]; ok {
		delete(p.accessTokens, g.accessToken)
	}
	delete(p.grants, refreshToken)
}

func factorIndex(factors []baas.Factor, id string) int {
	for i, f := range factors {
		if f.ID == id {
			return i
		}
	}
	return -1
}

func copyUser(u baas.User) baas.User {
	u.Factors = append([]baas.Factor(nil), u.Factors...)
	return u
}

func copySession(s *baas.Session) *baas.Session {
	if s == nil {
		return nil
	}
	c := *s
	c.User = copyUser(s.User)
	return &c
}
