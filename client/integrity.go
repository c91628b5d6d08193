package client

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/namecraft/auth-service/internal/infra/security"
)

// defaultMismatchTolerance is how many consecutive mismatched observations are
// ignored before corrective cleanup runs. One free pass absorbs the moment
// between a rotation landing and the cache catching up.
const defaultMismatchTolerance = 1

// TokenSource yields the raw access credential currently held, or "" when none
// is available.
type TokenSource func() string

// IntegrityValidator periodically compares the cached identity against the
// subject of the access credential actually held. The comparison uses an
// unverified decode; it is a local sanity check and never an authorization
// decision. On persistent mismatch it wipes all auth state and forces
// re-authentication.
type IntegrityValidator struct {
	manager   *SessionManager
	tokens    TokenSource
	reload    func()
	logger    *zap.Logger
	tolerance int

	mu         sync.Mutex
	mismatches int
	stop       chan struct{}
	stopped    bool
}

// IntegrityOption customizes the validator.
type IntegrityOption func(*IntegrityValidator)

// WithMismatchTolerance overrides how many consecutive mismatches are tolerated.
func WithMismatchTolerance(n int) IntegrityOption {
	return func(v *IntegrityValidator) {
		if n >= 0 {
			v.tolerance = n
		}
	}
}

// NewIntegrityValidator constructs the validator.
func NewIntegrityValidator(manager *SessionManager, tokens TokenSource, reload func(), log *zap.Logger, opts ...IntegrityOption) *IntegrityValidator {
	if log == nil {
		log = zap.NewNop()
	}
	if reload == nil {
		reload = func() {}
	}

	v := &IntegrityValidator{
		manager:   manager,
		tokens:    tokens,
		reload:    reload,
		logger:    log,
		tolerance: defaultMismatchTolerance,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Check runs one integrity comparison. It returns ErrSessionIntegrityViolation
// after cleanup when the mismatch exceeded tolerance, nil otherwise.
func (v *IntegrityValidator) Check() error {
	identity := v.manager.Current()
	token := ""
	if v.tokens != nil {
		token = v.tokens()
	}

	// Nothing cached or nothing held: nothing to compare.
	if identity == nil || token == "" {
		v.resetCounter()
		return nil
	}

	userID, _, err := security.DecodeSubjectUnverified(token)
	if err != nil || userID != identity.UserID {
		return v.recordMismatch(identity.UserID, userID)
	}

	v.resetCounter()
	return nil
}

// Run re-checks on the given interval until Stop is called. Sign-in triggers
// an immediate check via the manager subscription.
func (v *IntegrityValidator) Run(interval time.Duration) {
	if interval <= 0 {
		return
	}

	unsubscribe := v.manager.Subscribe(func(change StateChange) {
		if change.Identity != nil {
			_ = v.Check()
		}
	})

	go func() {
		defer unsubscribe()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = v.Check()
			case <-v.stop:
				return
			}
		}
	}()
}

// Stop cancels the periodic loop.
func (v *IntegrityValidator) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.stopped {
		v.stopped = true
		close(v.stop)
	}
}

func (v *IntegrityValidator) recordMismatch(cached, decoded string) error {
	v.mu.Lock()
	v.mismatches++
	over := v.mismatches > v.tolerance
	if over {
		v.mismatches = 0
	}
	v.mu.Unlock()

	if !over {
		return nil
	}

	v.logger.Warn("identity integrity violation, clearing auth state",
		zap.String("cached_user", cached),
		zap.String("token_user", decoded),
	)

	// Full corrective cleanup: wipe persisted keys (legacy names included),
	// drop local identity, and restart the application views. Handled
	// silently; the person using the app just sees the sign-in screen.
	v.manager.signOutLocal(SignOutSecurity)
	v.reload()
	return ErrSessionIntegrityViolation
}

func (v *IntegrityValidator) resetCounter() {
	v.mu.Lock()
	v.mismatches = 0
	v.mu.Unlock()
}
