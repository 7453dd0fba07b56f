// seed-admin creates or updates the bootstrap admin user for a site.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
//
// Override the defaults with ADMIN_USERNAME, ADMIN_PASSWORD and ADMIN_SITE.
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/cardinv_backend/config"
	"bitbucket.org/mmdatafocus/cardinv_backend/models"
	"bitbucket.org/mmdatafocus/cardinv_backend/utils"
	"gorm.io/gorm"
)

const (
	defaultAdminUsername = "admin"
	defaultAdminPassword = "123456"
	defaultAdminSite     = "1412"
)

func envOr(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	username := envOr("ADMIN_USERNAME", defaultAdminUsername)
	password := envOr("ADMIN_PASSWORD", defaultAdminPassword)
	site := envOr("ADMIN_SITE", defaultAdminSite)

	models.MigrateTable()

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).
		Where("username = ? AND site = ?", username, site).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		// Create new admin user. The seeded password must be rotated on
		// first login.
		u := models.User{
			Username:   username,
			Password:   hashedStr,
			Role:       models.UserRoleAdmin,
			Site:       site,
			MustChange: utils.NewTrue(),
			IsActive:   utils.NewTrue(),
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q site=%s (role=Admin)\n", username, site)
		return
	}

	// Update existing user: ensure password and admin role
	if err := db.WithContext(ctx).Model(&models.User{}).
		Where("username = ? AND site = ?", username, site).Updates(map[string]any{
		"password":    hashedStr,
		"role":        models.UserRoleAdmin,
		"is_active":   utils.NewTrue(),
		"must_change": utils.NewTrue(),
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Updated admin user: username=%q site=%s (role=Admin)\n", username, site)
}
