package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"advisorcrm/internal/config"
	"advisorcrm/internal/database"
	"advisorcrm/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrEmailExists     = errors.New("email already registered")
	ErrInvalidEmail    = errors.New("invalid email format")
	ErrWeakPassword    = errors.New("password must be at least 6 characters")
	ErrWrongPassword   = errors.New("incorrect email or password")
	ErrInvalidToken    = errors.New("invalid or expired token")
	ErrUserNotFound    = errors.New("user not found")
	ErrUserDeactivated = errors.New("account is deactivated")
)

type AuthService struct {
	db  *database.DB
	cfg *config.Config
}

type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

type AuthResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user"`
}

func NewAuthService(db *database.DB, cfg *config.Config) *AuthService {
	return &AuthService{db: db, cfg: cfg}
}

// Register creates a new advisor account
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if err := validateEmail(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(req.Password) < 6 {
		return nil, ErrWeakPassword
	}

	var existing models.User
	if err := s.db.WithContext(ctx).First(&existing, "email = ?", email).Error; err == nil {
		return nil, ErrEmailExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hashedPassword),
		Name:         strings.TrimSpace(req.Name),
		Phone:        normalizePhone(req.Phone),
		IsActive:     true,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return s.IssueTokens(ctx, user)
}

// Login authenticates an advisor with email and password
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	var user models.User
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWrongPassword
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !user.IsActive {
		return nil, ErrUserDeactivated
	}
	// Google-only accounts have no password
	if user.PasswordHash == "" {
		return nil, ErrWrongPassword
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrWrongPassword
	}

	return s.IssueTokens(ctx, &user)
}

// RefreshToken rotates a refresh token and issues a new access token
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	var stored models.RefreshToken
	if err := s.db.WithContext(ctx).First(&stored, "token = ? AND expires_at > ?", refreshToken, time.Now()).Error; err != nil {
		return nil, ErrInvalidToken
	}

	user, err := s.GetUserByID(ctx, stored.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Delete(&stored).Error; err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return s.IssueTokens(ctx, user)
}

// IssueTokens signs an access token and stores a fresh refresh token
func (s *AuthService) IssueTokens(ctx context.Context, user *models.User) (*AuthResponse, error) {
	accessToken, err := s.generateAccessToken(user)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.generateRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	}, nil
}

// ValidateToken validates an access token and returns its claims
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWT.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// GetUserByID retrieves an advisor by ID
func (s *AuthService) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserNotFound
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// UpdateUser updates the advisor profile
func (s *AuthService) UpdateUser(ctx context.Context, userID string, req *UpdateUserRequest) (*models.User, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Phone != nil {
		user.Phone = normalizePhone(*req.Phone)
	}
	if req.Picture != nil {
		user.PictureURL = strings.TrimSpace(*req.Picture)
	}

	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	return user, nil
}

// UpsertGoogleUser finds the advisor by Google subject, then by email, and
// creates one when neither matches.
func (s *AuthService) UpsertGoogleUser(ctx context.Context, profile GoogleProfile) (*models.User, error) {
	if profile.Subject == "" || validateEmail(profile.Email) != nil {
		return nil, ErrInvalidToken
	}
	email := strings.ToLower(strings.TrimSpace(profile.Email))

	var user models.User
	err := s.db.WithContext(ctx).Where("google_id = ?", profile.Subject).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	}

	switch {
	case err == nil:
		user.GoogleID = profile.Subject
		if profile.Name != "" {
			user.Name = profile.Name
		}
		if profile.Picture != "" {
			user.PictureURL = profile.Picture
		}
		if !user.IsActive {
			return nil, ErrUserDeactivated
		}
		if err := s.db.WithContext(ctx).Save(&user).Error; err != nil {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{
			Email:      email,
			GoogleID:   profile.Subject,
			Name:       profile.Name,
			PictureURL: profile.Picture,
			IsActive:   true,
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	return &user, nil
}

// Logout invalidates a refresh token
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil // Nothing to logout
	}
	return s.db.WithContext(ctx).Where("token = ?", refreshToken).Delete(&models.RefreshToken{}).Error
}

// Request types
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required"`
	Phone    string `json:"phone"`
}

type UpdateUserRequest struct {
	Name    *string `json:"name"`
	Phone   *string `json:"phone"`
	Picture *string `json:"picture"`
}

func (s *AuthService) generateAccessToken(user *models.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: user.ID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWT.Expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.cfg.JWT.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWT.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *AuthService) generateRefreshToken(ctx context.Context, userID string) (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(bytes)

	refreshToken := &models.RefreshToken{
		UserID:    userID,
		Token:     token,
		ExpiresAt: time.Now().Add(s.cfg.JWT.RefreshExpiry),
	}

	if err := s.db.WithContext(ctx).Create(refreshToken).Error; err != nil {
		return "", fmt.Errorf("failed to create refresh token: %w", err)
	}

	return token, nil
}

// validateEmail validates email format
func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("email is required")
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return errors.New("invalid email format")
	}

	if strings.TrimSpace(parts[0]) == "" || !strings.Contains(parts[1], ".") {
		return errors.New("invalid email format")
	}

	return nil
}

// normalizePhone converts an Indian number to E.164. Numbers already carrying
// a country code are kept; anything unrecognised is returned trimmed.
func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}

	var digits strings.Builder
	for _, c := range phone {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	d := digits.String()

	switch {
	case strings.HasPrefix(phone, "+") && len(d) >= 10:
		return "+" + d
	case strings.HasPrefix(d, "00") && len(d) > 11:
		return "+" + d[2:]
	case len(d) == 11 && d[0] == '0':
		return "+91" + d[1:]
	case len(d) == 10:
		return "+91" + d
	case len(d) == 12 && strings.HasPrefix(d, "91"):
		return "+" + d
	}

	return phone
}
