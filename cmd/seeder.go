package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/danuarta/archive-management/internal/user"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample data for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		if clearData {
			if _, err := db.Exec("DELETE FROM users"); err != nil {
				log.Fatalf("failed to clear users: %v", err)
			}
			fmt.Println("Cleared existing users")
		}

		password := "password"
		hash, _ := bcrypt.GenerateFromPassword([]byte(password), cfg.Security.BCryptCost)

		seedUsers := []struct {
			FullName string
			Username string
			Email    string
			Role     user.Role
		}{
			{"Dina Administrator", "dina.admin", "dina@archive.local", user.RoleAdmin},
			{"Budi Clerk", "budi.clerk", "budi@archive.local", user.RoleClerk},
			{"Sari Executive", "sari.exec", "sari@archive.local", user.RoleExecutive},
			{"Agus Staff", "agus.staff", "agus@archive.local", user.RoleDepartmentStaff},
		}

		for _, s := range seedUsers {
			var exists int
			row := db.QueryRow("SELECT 1 FROM users WHERE username = $1", s.Username)
			if err := row.Scan(&exists); err == nil {
				fmt.Printf("user %s already exists, skipping\n", s.Username)
				continue
			}

			_, err := db.Exec(
				`INSERT INTO users (full_name, username, email, password_hash, role, is_active, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, true, now(), now())`,
				s.FullName, s.Username, s.Email, string(hash), s.Role,
			)
			if err != nil {
				log.Fatalf("failed to insert user %s: %v", s.Username, err)
			}
			fmt.Printf("Seeded user %s (%s)\n", s.Username, s.Role)
		}
	},
}
