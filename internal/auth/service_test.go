package auth_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"

	"github.com/danuarta/archive-management/internal"
	"github.com/danuarta/archive-management/internal/auth"
	"github.com/danuarta/archive-management/internal/cache"
	"github.com/danuarta/archive-management/internal/core/events"
	"github.com/danuarta/archive-management/internal/user"
)

func TestAuthService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Auth Service Suite")
}

// fakeTokens issues sequence-numbered tokens so rotation specs can tell
// consecutive issuances apart. The real generator's same-second tokens are
// byte-identical, which is fine in production but opaque to assert on.
type fakeTokens struct {
	mu      sync.Mutex
	seq     int
	access  map[string]*auth.Claims
	refresh map[string]*auth.Claims
	ttl     time.Duration
}

func newFakeTokens(ttl time.Duration) *fakeTokens {
	return &fakeTokens{
		access:  make(map[string]*auth.Claims),
		refresh: make(map[string]*auth.Claims),
		ttl:     ttl,
	}
}

func (f *fakeTokens) issue(u *user.User, kind string, store map[string]*auth.Claims) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	token := fmt.Sprintf("%s-%d-%d", kind, u.ID, f.seq)
	store[token] = &auth.Claims{
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(f.ttl)),
		},
	}
	return token, nil
}

func (f *fakeTokens) GenerateAccessToken(u *user.User) (string, error) {
	return f.issue(u, "access", f.access)
}

func (f *fakeTokens) GenerateRefreshToken(u *user.User) (string, error) {
	return f.issue(u, "refresh", f.refresh)
}

func (f *fakeTokens) lookup(token string, store map[string]*auth.Claims) (*auth.Claims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	claims, ok := store[token]
	if !ok || time.Now().After(claims.ExpiresAt.Time) {
		return nil, internal.ErrInvalidToken
	}
	return claims, nil
}

func (f *fakeTokens) ValidateAccessToken(token string) (*auth.Claims, error) {
	return f.lookup(token, f.access)
}

func (f *fakeTokens) ValidateRefreshToken(token string) (*auth.Claims, error) {
	return f.lookup(token, f.refresh)
}

func (f *fakeTokens) DecodeUnverified(token string) *auth.Claims {
	f.mu.Lock()
	defer f.mu.Unlock()
	if claims, ok := f.access[token]; ok {
		return claims
	}
	return f.refresh[token]
}

// authRepo is a minimal in-memory user.Repository with a lookup counter for
// the credential-caching specs.
type authRepo struct {
	mu          sync.Mutex
	nextID      int64
	users       map[int64]*user.User
	findByName  int
	findByIDs   int
}

func newAuthRepo() *authRepo {
	return &authRepo{nextID: 1, users: make(map[int64]*user.User)}
}

func (r *authRepo) Create(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u.ID = r.nextID
	r.nextID++
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *authRepo) FindByID(_ context.Context, id int64) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findByIDs++
	u, ok := r.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *authRepo) FindByUsername(_ context.Context, username string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findByName++
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *authRepo) FindByEmail(_ context.Context, email string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email != nil && *u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *authRepo) FindByPhone(_ context.Context, phone string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Phone != nil && *u.Phone == phone {
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *authRepo) FindAll(context.Context, user.Filter) ([]*user.User, error) { return nil, nil }
func (r *authRepo) Search(context.Context, string) ([]*user.User, error) { return nil, nil }

func (r *authRepo) Update(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *authRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

func (r *authRepo) Count(context.Context, user.Filter) (int64, error) { return 0, nil }
func (r *authRepo) CountByRole(context.Context) (map[user.Role]int64, error) { return nil, nil }

var _ = Describe("Auth Service", func() {
	var (
		repo    *authRepo
		backend *cache.Memory
		store   *cache.Store
		tokens  *fakeTokens
		svc     *auth.Service
		ctx     context.Context
	)

	log := slog.New(slog.NewTextHandler(GinkgoWriter, nil))

	cfg := internal.Config{
		Cache: internal.DefaultCacheConfig(),
		Security: internal.SecurityConfig{
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
			BCryptCost:      bcrypt.MinCost,
		},
	}

	seedUser := func(username, password string, active bool) *user.User {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		Expect(err).NotTo(HaveOccurred())
		u := &user.User{
			FullName:     "Test " + username,
			Username:     username,
			PasswordHash: string(hash),
			Role:         user.RoleClerk,
			IsActive:     active,
		}
		Expect(repo.Create(ctx, u)).To(Succeed())
		return u
	}

	BeforeEach(func() {
		repo = newAuthRepo()
		backend = cache.NewMemory()
		store = cache.NewStore(backend, 100, log)
		tokens = newFakeTokens(15 * time.Minute)
		svc = auth.NewService(repo, tokens, store, cfg, log)
		ctx = context.Background()
	})

	Describe("Register", func() {
		It("should create the account and log it straight in", func() {
			resp, err := svc.Register(ctx, auth.RegisterDTO{
				FullName: "Dewi Lestari",
				Username: "dewi",
				Password: "password123",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.AccessToken).NotTo(BeEmpty())
			Expect(resp.RefreshToken).NotTo(BeEmpty())
			Expect(resp.TokenType).To(Equal("Bearer"))
			Expect(resp.User.Role).To(Equal(user.RoleDepartmentStaff))

			session := svc.GetActiveSession(ctx, resp.User.ID)
			Expect(session).NotTo(BeNil())
			Expect(session.Username).To(Equal("dewi"))
		})

		It("should reject a taken username", func() {
			seedUser("dewi", "password123", true)

			_, err := svc.Register(ctx, auth.RegisterDTO{
				FullName: "Other",
				Username: "dewi",
				Password: "password123",
			})
			Expect(err).To(MatchError(internal.ErrUsernameTaken))
		})
	})

	Describe("Login", func() {
		It("should issue tokens and record the session", func() {
			u := seedUser("dewi", "password123", true)

			resp, err := svc.Login(ctx, "dewi", "password123")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.User.ID).To(Equal(u.ID))
			Expect(resp.ExpiresIn).To(Equal(int64(900)))

			var cachedRefresh string
			Expect(store.Get(ctx, fmt.Sprintf("refresh_token:%d", u.ID), &cachedRefresh)).To(BeTrue())
			Expect(cachedRefresh).To(Equal(resp.RefreshToken))
		})

		It("should serve repeat logins from the credential snapshot", func() {
			seedUser("dewi", "password123", true)

			_, err := svc.Login(ctx, "dewi", "password123")
			Expect(err).NotTo(HaveOccurred())
			store.Flush()
			repo.findByName = 0

			_, err = svc.Login(ctx, "dewi", "password123")
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.findByName).To(BeZero())
		})

		It("should re-read credentials after the snapshot expires", func() {
			seedUser("dewi", "password123", true)

			_, err := svc.Login(ctx, "dewi", "password123")
			Expect(err).NotTo(HaveOccurred())
			store.Flush()
			repo.findByName = 0

			later := time.Now().Add(31 * time.Minute)
			backend.SetClock(func() time.Time { return later })

			_, err = svc.Login(ctx, "dewi", "password123")
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.findByName).To(Equal(1))
		})

		It("should reject a wrong password", func() {
			seedUser("dewi", "password123", true)

			_, err := svc.Login(ctx, "dewi", "wrong-password")
			Expect(err).To(MatchError(internal.ErrInvalidCredentials))
		})

		It("should reject an unknown username with the same error", func() {
			_, err := svc.Login(ctx, "nobody", "password123")
			Expect(err).To(MatchError(internal.ErrInvalidCredentials))
		})

		It("should reject a deactivated account before checking the password", func() {
			seedUser("dewi", "password123", false)

			_, err := svc.Login(ctx, "dewi", "password123")
			Expect(err).To(MatchError(internal.ErrUserInactive))
		})
	})

	Describe("RefreshTokens", func() {
		It("should rotate the pair and invalidate the old refresh token", func() {
			seedUser("dewi", "password123", true)
			login, err := svc.Login(ctx, "dewi", "password123")
			Expect(err).NotTo(HaveOccurred())
			store.Flush()

			rotated, err := svc.RefreshTokens(ctx, login.RefreshToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(rotated.RefreshToken).NotTo(Equal(login.RefreshToken))
			store.Flush()

			// The superseded token still verifies cryptographically but no
			// longer matches the cached copy.
			_, err = svc.RefreshTokens(ctx, login.RefreshToken)
			Expect(err).To(MatchError(internal.ErrInvalidToken))

			_, err = svc.RefreshTokens(ctx, rotated.RefreshToken)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should reject a token that was never issued", func() {
			_, err := svc.RefreshTokens(ctx, "refresh-1-999")
			Expect(err).To(MatchError(internal.ErrInvalidToken))
		})

		It("should reject refresh after logout", func() {
			seedUser("dewi", "password123", true)
			login, err := svc.Login(ctx, "dewi", "password123")
			Expect(err).NotTo(HaveOccurred())
			store.Flush()

			Expect(svc.Logout(ctx, login.User.ID, login.AccessToken)).To(Succeed())

			_, err = svc.RefreshTokens(ctx, login.RefreshToken)
			Expect(err).To(MatchError(internal.ErrInvalidToken))
		})

		It("should reject refresh for a deactivated account", func() {
			u := seedUser("dewi", "password123", true)
			login, err := svc.Login(ctx, "dewi", "password123")
			Expect(err).NotTo(HaveOccurred())
			store.Flush()

			u.IsActive = false
			Expect(repo.Update(ctx, u)).To(Succeed())

			_, err = svc.RefreshTokens(ctx, login.RefreshToken)
			Expect(err).To(MatchError(internal.ErrUserInactive))
		})
	})

	Describe("Logout", func() {
		It("should blacklist the access token for its remaining lifetime", func() {
			seedUser("dewi", "password123", true)
			login, err := svc.Login(ctx, "dewi", "password123")
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Authorize(ctx, login.AccessToken)
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.Logout(ctx, login.User.ID, login.AccessToken)).To(Succeed())

			_, err = svc.Authorize(ctx, login.AccessToken)
			Expect(err).To(MatchError(internal.ErrInvalidToken))
		})

		It("should drop the session record", func() {
			seedUser("dewi", "password123", true)
			login, err := svc.Login(ctx, "dewi", "password123")
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.Logout(ctx, login.User.ID, login.AccessToken)).To(Succeed())
			Expect(svc.GetActiveSession(ctx, login.User.ID)).To(BeNil())
		})

		It("should be idempotent", func() {
			seedUser("dewi", "password123", true)
			login, err := svc.Login(ctx, "dewi", "password123")
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.Logout(ctx, login.User.ID, login.AccessToken)).To(Succeed())
			Expect(svc.Logout(ctx, login.User.ID, login.AccessToken)).To(Succeed())
		})
	})

	Describe("ValidateToken", func() {
		It("should accept a live token and reject garbage", func() {
			seedUser("dewi", "password123", true)
			login, err := svc.Login(ctx, "dewi", "password123")
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.ValidateToken(ctx, login.AccessToken)).To(BeTrue())
			Expect(svc.ValidateToken(ctx, "not-a-token")).To(BeFalse())
		})
	})

	Describe("event-driven revocation", func() {
		It("should revoke sessions when the user module announces deactivation", func() {
			bus := events.NewEventBus(log)
			svc.RegisterEventHandlers(bus)

			u := seedUser("dewi", "password123", true)
			_, err := svc.Login(ctx, "dewi", "password123")
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.GetActiveSession(ctx, u.ID)).NotTo(BeNil())

			bus.Publish(ctx, events.NewUserDeactivatedEvent(u.ID, u.Username))

			Eventually(func() *auth.Session {
				return svc.GetActiveSession(ctx, u.ID)
			}).Should(BeNil())
		})
	})
})
