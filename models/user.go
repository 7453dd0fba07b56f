package models

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/cardinv_backend/config"
	"bitbucket.org/mmdatafocus/cardinv_backend/utils"
)

const defaultResetPassword = "123456"

// User is an operator account at one site. Usernames are unique per
// site, not globally.
type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	Username   string    `gorm:"size:100;not null;uniqueIndex:idx_user_site" json:"username" binding:"required"`
	Password   string    `gorm:"size:255;not null" json:"-"`
	Role       UserRole  `gorm:"size:50;not null;default:Operator" json:"role"`
	Site       string    `gorm:"size:50;not null;uniqueIndex:idx_user_site" json:"site"`
	MustChange *bool     `gorm:"not null;default:false" json:"must_change"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string   `json:"username" binding:"required"`
	Password string   `json:"password"`
	Role     UserRole `json:"role" binding:"required"`
	Site     string   `json:"site"`
}

type LoginInfo struct {
	Token      string `json:"token"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Site       string `json:"site"`
	MustChange bool   `json:"must_change"`
}

func (result *User) PrepareGive() {
	result.Password = ""
}

// checkPassword verifies a given password against the stored value. A
// bcrypt-hashed value must compare cleanly; any comparison error,
// including a corrupt or truncated hash, rejects the login. A legacy
// plaintext value is compared directly and reported for migration.
func checkPassword(stored string, given string) (migrate bool, err error) {
	if utils.IsBcryptHash(stored) {
		if err := utils.ComparePassword(stored, given); err != nil {
			return false, errors.New("invalid username or password")
		}
		return false, nil
	}
	if stored != given {
		return false, errors.New("invalid username or password")
	}
	return true, nil
}

// Login authenticates a user for a site and issues a JWT. Rows carried
// over from the legacy system may hold a plaintext password; those are
// compared directly and migrated to a bcrypt hash on first success.
func Login(ctx context.Context, username string, password string, site string) (*LoginInfo, error) {

	db := config.GetDB()
	var result LoginInfo

	user := User{}
	err := db.WithContext(ctx).Model(&User{}).
		Where("username = ? AND site = ?", username, site).Take(&user).Error
	if err != nil {
		return &result, errors.New("invalid username or password")
	}

	migrate, err := checkPassword(user.Password, password)
	if err != nil {
		return &result, err
	}
	if migrate {
		// migrate the legacy plaintext password to a hash
		hashed, herr := utils.HashPassword(password)
		if herr != nil {
			return &result, herr
		}
		if err := db.WithContext(ctx).Model(&user).
			Update("password", string(hashed)).Error; err != nil {
			return &result, err
		}
	}

	if !*user.IsActive {
		return &result, errors.New("user is disabled")
	}

	token, err := utils.JwtGenerate(user.ID, user.Username, string(user.Role), user.Site)
	if err != nil {
		return &result, err
	}

	result.Token = token
	result.Name = user.Username
	result.Role = string(user.Role)
	result.Site = user.Site
	result.MustChange = *user.MustChange

	// track issued tokens per user so admin resets can audit sessions
	if err := config.AddRedisSet("Tokens:"+user.Site+":"+user.Username, token); err != nil {
		return &result, err
	}

	return &result, nil
}

// destroy current session
func Logout(ctx context.Context) (bool, error) {
	token, ok := utils.GetTokenFromContext(ctx)
	if !ok || token == "" {
		return false, errors.New("token is required")
	}
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return false, errors.New("user not found")
	}
	site, _ := utils.GetSiteFromContext(ctx)
	if err := config.RemoveRedisSetMember("Tokens:"+site+":"+username, token); err != nil {
		return false, err
	}
	return true, nil
}

// ChangePassword updates the acting user's own password and clears the
// must-change flag.
func ChangePassword(ctx context.Context, currentPassword string, newPassword string, confirm string) (bool, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return false, errors.New("user not found")
	}
	if newPassword != confirm {
		return false, errors.New("password confirmation does not match")
	}
	if len(newPassword) < 6 {
		return false, errors.New("password must be at least 6 characters")
	}

	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).First(&user, userId).Error; err != nil {
		return false, utils.ErrorRecordNotFound
	}

	if err := utils.ComparePassword(user.Password, currentPassword); err != nil {
		return false, errors.New("current password is incorrect")
	}

	hashed, err := utils.HashPassword(newPassword)
	if err != nil {
		return false, err
	}
	err = db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"password":    string(hashed),
		"must_change": false,
	}).Error
	if err != nil {
		return false, err
	}
	return true, nil
}

func requireAdmin(ctx context.Context) error {
	isAdmin, _ := utils.GetIsAdminFromContext(ctx)
	if !isAdmin {
		return errors.New("only Admin can manage users")
	}
	return nil
}

// GetAllUsers lists every user across sites, ordered by name. Admin only.
func GetAllUsers(ctx context.Context) ([]*User, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var results []*User
	if err := db.WithContext(ctx).Order("username").Find(&results).Error; err != nil {
		return nil, err
	}
	for i, u := range results {
		u.PrepareGive()
		results[i] = u
	}
	return results, nil
}

// CreateUser registers an operator. A blank password defaults to
// "123456" and the account is flagged for a forced change on first
// login.
func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	site := strings.TrimSpace(input.Site)
	if site == "" {
		site, _ = utils.GetSiteFromContext(ctx)
	}
	if site == "" {
		return nil, errors.New("site is required")
	}

	username := html.EscapeString(strings.TrimSpace(input.Username))
	if username == "" {
		return nil, errors.New("username is required")
	}

	if err := utils.ValidateUnique[User](ctx, site, "username", username, 0); err != nil {
		return nil, err
	}

	password := input.Password
	if strings.TrimSpace(password) == "" {
		password = defaultResetPassword
	}
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := User{
		Username:   username,
		Password:   string(hashed),
		Role:       input.Role,
		Site:       site,
		MustChange: utils.NewTrue(),
		IsActive:   utils.NewTrue(),
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}

type UpdateUserInput struct {
	Username string   `json:"username" binding:"required"`
	Role     UserRole `json:"role" binding:"required"`
	Site     string   `json:"site" binding:"required"`
}

// UpdateUser renames/moves an account. Admin only; the (username, site)
// pair must stay unique.
func UpdateUser(ctx context.Context, id int, input *UpdateUserInput) (*User, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	if err := utils.ValidateUnique[User](ctx, input.Site, "username", input.Username, id); err != nil {
		return nil, err
	}

	user, err := utils.FetchSingleModel[User](ctx, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"username": input.Username,
		"role":     input.Role,
		"site":     input.Site,
	}).Error
	if err != nil {
		return nil, err
	}
	user.PrepareGive()
	return user, nil
}

// ResetUserPassword sets the default password and forces a change on
// next login. Admin only.
func ResetUserPassword(ctx context.Context, id int) (*User, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	user, err := utils.FetchSingleModel[User](ctx, id)
	if err != nil {
		return nil, err
	}
	hashed, err := utils.HashPassword(defaultResetPassword)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"password":    string(hashed),
		"must_change": true,
	}).Error
	if err != nil {
		return nil, err
	}
	user.PrepareGive()
	return user, nil
}

// DeleteUser removes an account. Admin only; self-deletion is rejected.
func DeleteUser(ctx context.Context, id int) (*User, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	actingId, _ := utils.GetUserIdFromContext(ctx)
	if actingId == id {
		return nil, errors.New("cannot delete your own user")
	}

	user, err := utils.FetchSingleModel[User](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(&user).Error; err != nil {
		return nil, err
	}
	user.PrepareGive()
	return user, nil
}
