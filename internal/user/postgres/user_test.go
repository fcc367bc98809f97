package postgres_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/danuarta/archive-management/internal/user"
	userPostgres "github.com/danuarta/archive-management/internal/user/postgres"
)

func TestUserPostgres(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "User Postgres Suite")
}

var _ = Describe("User PostgreSQL Repository", func() {
	var (
		db   *gorm.DB
		repo user.Repository
		ctx  context.Context
	)

	strPtr := func(s string) *string { return &s }

	newUser := func(username string, role user.Role) *user.User {
		return &user.User{
			FullName:     "Test " + username,
			Username:     username,
			Email:        strPtr(username + "@archive.local"),
			PasswordHash: "$2a$10$hash",
			Role:         role,
			IsActive:     true,
		}
	}

	BeforeEach(func() {
		var err error
		// SQLite in-memory database keeps the suite self-contained
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		Expect(err).NotTo(HaveOccurred())

		err = db.AutoMigrate(&user.User{})
		Expect(err).NotTo(HaveOccurred())

		repo = userPostgres.NewUserRepository(db)
		ctx = context.Background()
	})

	Describe("Create", func() {
		It("should persist a new user and assign an ID", func() {
			u := newUser("dewi", user.RoleClerk)

			err := repo.Create(ctx, u)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.ID).To(BeNumerically(">", 0))
			Expect(u.CreatedAt).NotTo(BeZero())
		})

		It("should reject a duplicate username", func() {
			Expect(repo.Create(ctx, newUser("dewi", user.RoleClerk))).To(Succeed())

			dup := newUser("dewi", user.RoleAdmin)
			dup.Email = strPtr("other@archive.local")
			Expect(repo.Create(ctx, dup)).NotTo(Succeed())
		})
	})

	Describe("FindByID", func() {
		It("should return the stored user", func() {
			u := newUser("budi", user.RoleAdmin)
			Expect(repo.Create(ctx, u)).To(Succeed())

			found, err := repo.FindByID(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(found.Username).To(Equal("budi"))
			Expect(found.Role).To(Equal(user.RoleAdmin))
		})

		It("should return ErrNotFound for an unknown ID", func() {
			_, err := repo.FindByID(ctx, 9999)
			Expect(err).To(MatchError(user.ErrNotFound))
		})
	})

	Describe("FindByUsername / FindByEmail / FindByPhone", func() {
		BeforeEach(func() {
			u := newUser("sari", user.RoleExecutive)
			u.Phone = strPtr("+628123456789")
			Expect(repo.Create(ctx, u)).To(Succeed())
		})

		It("should look up by username", func() {
			found, err := repo.FindByUsername(ctx, "sari")
			Expect(err).NotTo(HaveOccurred())
			Expect(found.Role).To(Equal(user.RoleExecutive))
		})

		It("should look up by email", func() {
			found, err := repo.FindByEmail(ctx, "sari@archive.local")
			Expect(err).NotTo(HaveOccurred())
			Expect(found.Username).To(Equal("sari"))
		})

		It("should look up by phone", func() {
			found, err := repo.FindByPhone(ctx, "+628123456789")
			Expect(err).NotTo(HaveOccurred())
			Expect(found.Username).To(Equal("sari"))
		})

		It("should return ErrNotFound when nothing matches", func() {
			_, err := repo.FindByUsername(ctx, "nobody")
			Expect(err).To(MatchError(user.ErrNotFound))
		})
	})

	Describe("FindAll", func() {
		BeforeEach(func() {
			Expect(repo.Create(ctx, newUser("admin1", user.RoleAdmin))).To(Succeed())
			Expect(repo.Create(ctx, newUser("clerk1", user.RoleClerk))).To(Succeed())

			inactive := newUser("clerk2", user.RoleClerk)
			inactive.IsActive = false
			Expect(repo.Create(ctx, inactive)).To(Succeed())
		})

		It("should return everything without a filter", func() {
			users, err := repo.FindAll(ctx, user.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(users).To(HaveLen(3))
		})

		It("should filter by role", func() {
			role := user.RoleClerk
			users, err := repo.FindAll(ctx, user.Filter{Role: &role})
			Expect(err).NotTo(HaveOccurred())
			Expect(users).To(HaveLen(2))
		})

		It("should filter by active status", func() {
			active := true
			users, err := repo.FindAll(ctx, user.Filter{IsActive: &active})
			Expect(err).NotTo(HaveOccurred())
			Expect(users).To(HaveLen(2))
		})
	})

	Describe("Search", func() {
		BeforeEach(func() {
			u := newUser("rina", user.RoleClerk)
			u.FullName = "Rina Wulandari"
			Expect(repo.Create(ctx, u)).To(Succeed())
			Expect(repo.Create(ctx, newUser("agus", user.RoleClerk))).To(Succeed())
		})

		It("should match against the full name", func() {
			users, err := repo.Search(ctx, "Wulandari")
			Expect(err).NotTo(HaveOccurred())
			Expect(users).To(HaveLen(1))
			Expect(users[0].Username).To(Equal("rina"))
		})

		It("should match against the email", func() {
			users, err := repo.Search(ctx, "agus@archive")
			Expect(err).NotTo(HaveOccurred())
			Expect(users).To(HaveLen(1))
		})

		It("should return an empty slice when nothing matches", func() {
			users, err := repo.Search(ctx, "zzz")
			Expect(err).NotTo(HaveOccurred())
			Expect(users).To(BeEmpty())
		})
	})

	Describe("Update", func() {
		It("should persist field changes", func() {
			u := newUser("joko", user.RoleClerk)
			Expect(repo.Create(ctx, u)).To(Succeed())

			u.FullName = "Joko Santoso"
			u.Role = user.RoleExecutive
			Expect(repo.Update(ctx, u)).To(Succeed())

			found, err := repo.FindByID(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(found.FullName).To(Equal("Joko Santoso"))
			Expect(found.Role).To(Equal(user.RoleExecutive))
		})
	})

	Describe("Delete", func() {
		It("should remove the row", func() {
			u := newUser("tono", user.RoleClerk)
			Expect(repo.Create(ctx, u)).To(Succeed())

			Expect(repo.Delete(ctx, u.ID)).To(Succeed())

			_, err := repo.FindByID(ctx, u.ID)
			Expect(err).To(MatchError(user.ErrNotFound))
		})

		It("should return ErrNotFound for an unknown ID", func() {
			Expect(repo.Delete(ctx, 9999)).To(MatchError(user.ErrNotFound))
		})
	})

	Describe("Count and CountByRole", func() {
		BeforeEach(func() {
			Expect(repo.Create(ctx, newUser("a1", user.RoleAdmin))).To(Succeed())
			Expect(repo.Create(ctx, newUser("c1", user.RoleClerk))).To(Succeed())
			Expect(repo.Create(ctx, newUser("c2", user.RoleClerk))).To(Succeed())
		})

		It("should count with filters", func() {
			role := user.RoleClerk
			count, err := repo.Count(ctx, user.Filter{Role: &role})
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(2)))
		})

		It("should group counts by role", func() {
			byRole, err := repo.CountByRole(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(byRole[user.RoleAdmin]).To(Equal(int64(1)))
			Expect(byRole[user.RoleClerk]).To(Equal(int64(2)))
		})
	})
})
