package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"dhatri/internal/apperr"
	"dhatri/internal/audit"
	"dhatri/internal/auth"
	"dhatri/internal/ledger"
	"dhatri/internal/lockout"
	"dhatri/internal/logging"
	"dhatri/internal/models"
	"dhatri/internal/notify"
	"dhatri/internal/store"
)

const (
	msgInvalidCredentials = "Invalid email or password"
	msgInvalidRefresh     = "Invalid or expired refresh token"
)

// Meta carries request provenance into audit entries and ledger rows.
type Meta struct {
	IP        string
	UserAgent string
}

func (m Meta) ledger() ledger.Meta { return ledger.Meta{DeviceInfo: m.UserAgent, IP: m.IP} }

// AuthResult is a freshly issued token pair. RefreshToken must only travel
// in the refresh cookie.
type AuthResult struct {
	User         models.User
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

type Options struct {
	Store            *store.Store
	Hasher           *auth.Hasher
	Codec            *auth.Codec
	Ledger           *ledger.Ledger
	Lockout          *lockout.Tracker
	Audit            audit.Logger
	Notifier         notify.Sender
	Log              *zap.Logger
	AllowAdminSignup bool
	Now              func() time.Time
}

type Service struct {
	st               *store.Store
	hasher           *auth.Hasher
	codec            *auth.Codec
	ledger           *ledger.Ledger
	lockout          *lockout.Tracker
	audit            audit.Logger
	notifier         notify.Sender
	log              *zap.Logger
	allowAdminSignup bool
	now              func() time.Time
}

func New(o Options) *Service {
	if o.Audit == nil {
		o.Audit = audit.Nop{}
	}
	if o.Notifier == nil {
		o.Notifier = notify.LogSender{}
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		st:               o.Store,
		hasher:           o.Hasher,
		codec:            o.Codec,
		ledger:           o.Ledger,
		lockout:          o.Lockout,
		audit:            o.Audit,
		notifier:         o.Notifier,
		log:              logging.OrNop(o.Log).Named("auth"),
		allowAdminSignup: o.AllowAdminSignup,
		now:              o.Now,
	}
}

func (s *Service) Codec() *auth.Codec { return s.codec }

func (s *Service) record(ctx context.Context, action models.AuditAction, userID string, m Meta, success bool, errMsg string, meta map[string]any) {
	e := audit.Entry(action, userID, m.IP, m.UserAgent, success)
	if errMsg != "" {
		e.ErrorMessage = &errMsg
	}
	e.Metadata = meta
	s.audit.LogEvent(ctx, e)
}

func (s *Service) issue(ctx context.Context, u models.User, m Meta) (AuthResult, error) {
	access, err := s.codec.SignAccess(u)
	if err != nil {
		return AuthResult{}, apperr.Internalf(err, "sign access token")
	}
	refresh, _, err := s.ledger.Issue(ctx, u.ID, m.ledger())
	if err != nil {
		return AuthResult{}, apperr.Internalf(err, "issue refresh token")
	}
	return AuthResult{User: u, AccessToken: access, RefreshToken: refresh, ExpiresIn: s.codec.AccessTTL()}, nil
}

func (s *Service) Register(ctx context.Context, in RegisterInput, m Meta) (AuthResult, error) {
	in.normalize()
	if errs := in.validate(); len(errs) > 0 {
		return AuthResult{}, apperr.Invalid(errs...)
	}
	if in.Role == models.RoleAdmin && !s.allowAdminSignup {
		return AuthResult{}, apperr.Invalid(apperr.FieldError{Field: "role", Message: "Admin accounts cannot be self-registered"})
	}

	if _, err := s.st.GetUserByEmail(ctx, in.Email); err == nil {
		return AuthResult{}, apperr.New(apperr.UserExists, "User with this email already exists")
	} else if !errors.Is(err, store.ErrNotFound) {
		return AuthResult{}, apperr.Internalf(err, "lookup user")
	}

	var phone *string
	if in.Phone != "" {
		phone = &in.Phone
	}
	u, err := s.hasher.NewUser(auth.NewUserParams{Name: in.Name, Email: in.Email, Password: in.Password, Role: in.Role, Phone: phone}, s.now())
	if err != nil {
		return AuthResult{}, apperr.Internalf(err, "hash password")
	}
	u, err = s.st.CreateUser(ctx, u)
	if errors.Is(err, store.ErrConflict) {
		return AuthResult{}, apperr.New(apperr.UserExists, "User with this email already exists")
	}
	if err != nil {
		return AuthResult{}, apperr.Internalf(err, "create user")
	}

	res, err := s.issue(ctx, u, m)
	if err != nil {
		return AuthResult{}, err
	}
	s.record(ctx, models.AuditRegister, u.ID, m, true, "", map[string]any{"role": string(u.Role)})
	s.log.Info("user registered", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	return res, nil
}

func (s *Service) Login(ctx context.Context, email, password string, m Meta) (AuthResult, error) {
	email = normalizeEmail(email)
	if errs := validateLogin(email, password); len(errs) > 0 {
		return AuthResult{}, apperr.Invalid(errs...)
	}

	u, err := s.st.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		s.record(ctx, models.AuditFailedLogin, "", m, false, "User not found", map[string]any{"email": email})
		return AuthResult{}, apperr.New(apperr.InvalidCredentials, msgInvalidCredentials)
	}
	if err != nil {
		return AuthResult{}, apperr.Internalf(err, "lookup user")
	}

	if !u.IsActive {
		s.record(ctx, models.AuditFailedLogin, u.ID, m, false, "Account deactivated", nil)
		return AuthResult{}, apperr.New(apperr.AccountDeactivated, "Account has been deactivated. Please contact support.")
	}
	if s.lockout.IsLocked(u) {
		mins := s.lockout.RemainingMinutes(u)
		s.record(ctx, models.AuditFailedLogin, u.ID, m, false, "Account locked", map[string]any{"remainingMinutes": mins})
		return AuthResult{}, apperr.Newf(apperr.AccountLocked,
			"Account is temporarily locked due to too many failed login attempts. Try again in %d minutes.", mins)
	}

	ok, err := s.hasher.Verify(password, u.PasswordHash)
	if err != nil {
		return AuthResult{}, apperr.Internalf(err, "verify password")
	}
	if !ok {
		return AuthResult{}, s.failLogin(ctx, u, m)
	}

	if err := s.lockout.RecordSuccess(ctx, u.ID); err != nil {
		return AuthResult{}, apperr.Internalf(err, "reset lockout")
	}
	now := s.now()
	u.FailedLoginAttempts = 0
	u.LockUntil = nil
	u.LastLogin = &now

	res, err := s.issue(ctx, u, m)
	if err != nil {
		return AuthResult{}, err
	}
	s.record(ctx, models.AuditLogin, u.ID, m, true, "", nil)
	return res, nil
}

func (s *Service) failLogin(ctx context.Context, u models.User, m Meta) error {
	u, lockedNow, err := s.lockout.RecordFailure(ctx, u)
	if err != nil {
		return apperr.Internalf(err, "record failed login")
	}
	s.record(ctx, models.AuditFailedLogin, u.ID, m, false, "Invalid password", map[string]any{"attempts": u.FailedLoginAttempts})
	if lockedNow {
		s.record(ctx, models.AuditAccountLocked, u.ID, m, true, "", map[string]any{
			"attempts":  u.FailedLoginAttempts,
			"lockUntil": u.LockUntil.Format(time.RFC3339),
		})
		s.log.Warn("account locked", zap.String("user_id", u.ID), zap.Time("until", *u.LockUntil))
		notice := notify.LockoutNotice{To: u.Email, Name: u.Name, Until: *u.LockUntil, IP: m.IP}
		if err := s.notifier.SendLockoutNotice(ctx, notice); err != nil {
			s.log.Warn("lockout notice failed", zap.String("user_id", u.ID), zap.Error(err))
		}
	}
	return apperr.New(apperr.InvalidCredentials, msgInvalidCredentials)
}

// Refresh exchanges a refresh token for a new pair, rotating the ledger row.
func (s *Service) Refresh(ctx context.Context, raw string, m Meta) (AuthResult, error) {
	if raw == "" {
		return AuthResult{}, apperr.New(apperr.NoRefreshToken, "Refresh token not found")
	}
	u, row, err := s.ledger.Redeem(ctx, raw)
	if err != nil {
		return AuthResult{}, s.refreshError(err)
	}
	next, _, err := s.ledger.Rotate(ctx, row, m.ledger())
	if err != nil {
		return AuthResult{}, s.refreshError(err)
	}
	access, err := s.codec.SignAccess(u)
	if err != nil {
		return AuthResult{}, apperr.Internalf(err, "sign access token")
	}
	s.record(ctx, models.AuditTokenRefresh, u.ID, m, true, "", nil)
	return AuthResult{User: u, AccessToken: access, RefreshToken: next, ExpiresIn: s.codec.AccessTTL()}, nil
}

func (s *Service) refreshError(err error) error {
	if errors.Is(err, ledger.ErrInvalidToken) {
		return apperr.Wrap(apperr.InvalidRefreshToken, msgInvalidRefresh, err)
	}
	return apperr.Internalf(err, "refresh token")
}

// Logout revokes the presented refresh token if it can be resolved. It never
// fails.
func (s *Service) Logout(ctx context.Context, raw string, m Meta) {
	if raw == "" {
		return
	}
	userID, err := s.ledger.RevokeToken(ctx, raw, ledger.ReasonLogout)
	if err != nil {
		s.log.Warn("logout revoke failed", zap.Error(err))
	}
	if userID != "" {
		s.record(ctx, models.AuditLogout, userID, m, true, "", nil)
	}
}

// LogoutAll revokes every refresh token of userID.
func (s *Service) LogoutAll(ctx context.Context, userID string, m Meta) (int64, error) {
	n, err := s.ledger.RevokeAllForUser(ctx, userID, ledger.ReasonLogoutAll)
	if err != nil {
		return 0, apperr.Internalf(err, "revoke all sessions")
	}
	s.record(ctx, models.AuditLogout, userID, m, true, "", map[string]any{"logoutType": "all_devices", "revokedSessions": n})
	return n, nil
}

func (s *Service) CurrentUser(ctx context.Context, userID string) (models.User, error) {
	u, err := s.st.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.User{}, apperr.New(apperr.UserNotFound, "User not found")
	}
	if err != nil {
		return models.User{}, apperr.Internalf(err, "load user")
	}
	return u, nil
}

func (s *Service) Health(ctx context.Context) error {
	return s.st.Ping(ctx)
}

// EnsureAdmin seeds or promotes the bootstrap administrator.
func (s *Service) EnsureAdmin(ctx context.Context, name, email, password string) error {
	u, err := s.hasher.NewUser(auth.NewUserParams{Name: name, Email: email, Password: password, Role: models.RoleAdmin}, s.now())
	if err != nil {
		return err
	}
	changed := s.now().Add(-time.Second)
	u.PasswordChangedAt = &changed
	return s.st.EnsureAdmin(ctx, u)
}
