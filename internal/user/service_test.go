package user_test

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"

	"github.com/danuarta/archive-management/internal"
	"github.com/danuarta/archive-management/internal/cache"
	"github.com/danuarta/archive-management/internal/core/events"
	"github.com/danuarta/archive-management/internal/user"
)

func TestUserService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "User Service Suite")
}

// memRepo is an in-memory Repository with call counters so the specs can
// observe which reads hit the persistent store versus the cache.
type memRepo struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]*user.User
	findAlls int
	findByID int
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, users: make(map[int64]*user.User)}
}

func (r *memRepo) Create(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u.ID = r.nextID
	r.nextID++
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *memRepo) FindByID(_ context.Context, id int64) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findByID++
	u, ok := r.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memRepo) findBy(match func(*user.User) bool) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *memRepo) FindByUsername(_ context.Context, username string) (*user.User, error) {
	return r.findBy(func(u *user.User) bool { return u.Username == username })
}

func (r *memRepo) FindByEmail(_ context.Context, email string) (*user.User, error) {
	return r.findBy(func(u *user.User) bool { return u.Email != nil && *u.Email == email })
}

func (r *memRepo) FindByPhone(_ context.Context, phone string) (*user.User, error) {
	return r.findBy(func(u *user.User) bool { return u.Phone != nil && *u.Phone == phone })
}

func (r *memRepo) FindAll(_ context.Context, f user.Filter) ([]*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findAlls++
	var out []*user.User
	for _, u := range r.users {
		if f.Role != nil && u.Role != *f.Role {
			continue
		}
		if f.IsActive != nil && u.IsActive != *f.IsActive {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRepo) Search(_ context.Context, term string) ([]*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*user.User
	for _, u := range r.users {
		if strings.Contains(u.FullName, term) || strings.Contains(u.Username, term) {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) Update(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; !ok {
		return user.ErrNotFound
	}
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *memRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return user.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *memRepo) Count(ctx context.Context, f user.Filter) (int64, error) {
	users, err := r.FindAll(ctx, f)
	return int64(len(users)), err
}

func (r *memRepo) CountByRole(_ context.Context) (map[user.Role]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byRole := make(map[user.Role]int64)
	for _, u := range r.users {
		byRole[u.Role]++
	}
	return byRole, nil
}

var _ = Describe("User Service", func() {
	var (
		repo    *memRepo
		backend *cache.Memory
		store   *cache.Store
		svc     *user.Service
		bus     *events.EventBus
		ctx     context.Context
	)

	log := slog.New(slog.NewTextHandler(GinkgoWriter, nil))

	strPtr := func(s string) *string { return &s }

	create := func(username string, role user.Role) *user.User {
		u, err := svc.Create(ctx, user.CreateUserDTO{
			FullName: "Test " + username,
			Username: username,
			Password: "password123",
			Role:     role,
		})
		Expect(err).NotTo(HaveOccurred())
		return u
	}

	BeforeEach(func() {
		repo = newMemRepo()
		backend = cache.NewMemory()
		store = cache.NewStore(backend, 100, log)
		bus = events.NewEventBus(log)
		svc = user.NewService(repo, store, internal.DefaultCacheConfig(), bus, bcrypt.MinCost, log)
		ctx = context.Background()
	})

	Describe("Create", func() {
		It("should hash the password and default the role", func() {
			u, err := svc.Create(ctx, user.CreateUserDTO{
				FullName: "Dewi",
				Username: "dewi",
				Password: "password123",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Role).To(Equal(user.RoleDepartmentStaff))
			Expect(u.IsActive).To(BeTrue())
			Expect(u.PasswordHash).NotTo(Equal("password123"))
			Expect(bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("password123"))).To(Succeed())
		})

		It("should reject a duplicate username", func() {
			create("dewi", user.RoleClerk)

			_, err := svc.Create(ctx, user.CreateUserDTO{
				FullName: "Other",
				Username: "dewi",
				Password: "password123",
			})
			Expect(err).To(MatchError(internal.ErrUsernameTaken))
		})

		It("should reject a duplicate email", func() {
			_, err := svc.Create(ctx, user.CreateUserDTO{
				FullName: "First",
				Username: "first",
				Email:    strPtr("shared@archive.local"),
				Password: "password123",
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Create(ctx, user.CreateUserDTO{
				FullName: "Second",
				Username: "second",
				Email:    strPtr("shared@archive.local"),
				Password: "password123",
			})
			Expect(err).To(MatchError(internal.ErrEmailTaken))
		})

		It("should reject invalid input before touching the store", func() {
			_, err := svc.Create(ctx, user.CreateUserDTO{
				FullName: "Short",
				Username: "short",
				Password: "tiny",
			})
			Expect(err).To(BeAssignableToTypeOf(user.ValidationError{}))
		})
	})

	Describe("cache-aside reads", func() {
		It("should serve repeated FindAll calls from the cache", func() {
			create("dewi", user.RoleClerk)
			store.Flush()
			repo.findAlls = 0

			_, err := svc.FindAll(ctx, user.Filter{})
			Expect(err).NotTo(HaveOccurred())
			store.Flush()

			_, err = svc.FindAll(ctx, user.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.findAlls).To(Equal(1))
		})

		It("should cache FindOne per ID", func() {
			u := create("budi", user.RoleAdmin)
			store.Flush()
			repo.findByID = 0

			for i := 0; i < 3; i++ {
				found, err := svc.FindOne(ctx, u.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(found.Username).To(Equal("budi"))
				store.Flush()
			}
			Expect(repo.findByID).To(Equal(1))
		})

		It("should return not-found for an unknown ID", func() {
			_, err := svc.FindOne(ctx, 9999)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeUserNotFound))
		})

		It("should compute stats once and then serve the snapshot", func() {
			create("a", user.RoleAdmin)
			create("b", user.RoleClerk)
			store.Flush()

			stats, err := svc.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Total).To(Equal(int64(2)))
			Expect(stats.ByRole[user.RoleClerk]).To(Equal(int64(1)))
		})
	})

	Describe("write-path invalidation", func() {
		It("should drop cached listings after an update", func() {
			u := create("dewi", user.RoleClerk)
			store.Flush()

			_, err := svc.FindAll(ctx, user.Filter{})
			Expect(err).NotTo(HaveOccurred())
			store.Flush()
			repo.findAlls = 0

			newName := "Dewi Lestari"
			_, err = svc.Update(ctx, u.ID, user.UpdateUserDTO{FullName: &newName})
			Expect(err).NotTo(HaveOccurred())

			users, err := svc.FindAll(ctx, user.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.findAlls).To(Equal(1))
			Expect(users[0].FullName).To(Equal("Dewi Lestari"))
		})

		It("should drop the credential snapshot for the affected username", func() {
			u := create("dewi", user.RoleClerk)
			store.Set(ctx, user.CredentialsCacheKey("dewi"), "snapshot", 0)

			newName := "Dewi Lestari"
			_, err := svc.Update(ctx, u.ID, user.UpdateUserDTO{FullName: &newName})
			Expect(err).NotTo(HaveOccurred())

			var cached string
			Expect(store.Get(ctx, user.CredentialsCacheKey("dewi"), &cached)).To(BeFalse())
		})
	})

	Describe("ChangePassword", func() {
		It("should verify the old password first", func() {
			u := create("dewi", user.RoleClerk)

			err := svc.ChangePassword(ctx, u.ID, user.ChangePasswordDTO{
				OldPassword: "wrong-password",
				NewPassword: "newpassword1",
			})
			Expect(err).To(MatchError(internal.ErrWrongPassword))
		})

		It("should store the new hash", func() {
			u := create("dewi", user.RoleClerk)

			err := svc.ChangePassword(ctx, u.ID, user.ChangePasswordDTO{
				OldPassword: "password123",
				NewPassword: "newpassword1",
			})
			Expect(err).NotTo(HaveOccurred())

			stored, err := repo.FindByUsername(ctx, "dewi")
			Expect(err).NotTo(HaveOccurred())
			Expect(bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("newpassword1"))).To(Succeed())
		})
	})

	Describe("ToggleActive", func() {
		It("should flip the flag and announce deactivation", func() {
			u := create("dewi", user.RoleClerk)

			var deactivated int64
			done := make(chan struct{})
			bus.Subscribe(events.EventTypeUserDeactivated, func(_ context.Context, e events.Event) error {
				deactivated = e.(*events.UserDeactivatedEvent).UserID
				close(done)
				return nil
			})

			updated, err := svc.ToggleActive(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.IsActive).To(BeFalse())

			Eventually(done).Should(BeClosed())
			Expect(deactivated).To(Equal(u.ID))
		})

		It("should not announce reactivation", func() {
			u := create("dewi", user.RoleClerk)

			announced := make(chan struct{}, 2)
			bus.Subscribe(events.EventTypeUserDeactivated, func(context.Context, events.Event) error {
				announced <- struct{}{}
				return nil
			})

			_, err := svc.ToggleActive(ctx, u.ID) // deactivate
			Expect(err).NotTo(HaveOccurred())
			Eventually(announced).Should(Receive())

			_, err = svc.ToggleActive(ctx, u.ID) // reactivate
			Expect(err).NotTo(HaveOccurred())
			Consistently(announced).ShouldNot(Receive())
		})
	})

	Describe("Remove", func() {
		It("should delete the record and announce it", func() {
			u := create("dewi", user.RoleClerk)

			done := make(chan struct{})
			bus.Subscribe(events.EventTypeUserDeleted, func(context.Context, events.Event) error {
				close(done)
				return nil
			})

			Expect(svc.Remove(ctx, u.ID)).To(Succeed())
			Eventually(done).Should(BeClosed())

			_, err := svc.FindOne(ctx, u.ID)
			Expect(err).To(HaveOccurred())
		})
	})
})
