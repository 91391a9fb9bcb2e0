package services

import (
	"context"
	"errors"
	"time"

	"dm-backend/internal/models"
	"dm-backend/internal/store"
	"dm-backend/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type UserService struct {
	st store.Store
}

func NewUserService(st store.Store) *UserService {
	return &UserService{st: st}
}

func (s *UserService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	if req.Username == "" {
		return nil, invalid("username", "required")
	}
	if len(req.Password) < 6 {
		return nil, invalid("password", "must be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{Username: req.Username, PasswordHash: string(hash)}
	if err := s.st.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	user, err := s.st.UserByUsername(ctx, req.Username)
	if err != nil {
		return nil, errors.New("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, errors.New("invalid credentials")
	}

	token, err := GenerateJWT(user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	refresh, err := GenerateRefreshToken(user.ID, user.Username)
	if err != nil {
		return nil, err
	}

	return &models.AuthResponse{
		Token:        token,
		RefreshToken: refresh,
		Username:     user.Username,
		UserID:       user.ID,
	}, nil
}

// SetPresence records an online/offline transition. Only the session
// registry's connect/disconnect path calls this; message handling never
// touches the online flag or last-seen directly.
func (s *UserService) SetPresence(ctx context.Context, userID int, online bool) error {
	return s.st.SetUserPresence(ctx, userID, online, time.Now().UTC())
}

func (s *UserService) GetProfile(ctx context.Context, userID int) (*models.User, error) {
	return s.st.UserByID(ctx, userID)
}

func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.st.ListUsers(ctx)
}

func (s *UserService) UpdateProfile(ctx context.Context, userID int, username string) (*models.User, error) {
	if username == "" {
		return nil, invalid("username", "required")
	}
	if err := s.st.UpdateUsername(ctx, userID, username); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return s.st.UserByID(ctx, userID)
}

func (s *UserService) UpdateAvatar(ctx context.Context, userID int, avatarURL string) (*models.User, error) {
	if err := s.st.UpdateUserAvatar(ctx, userID, avatarURL); err != nil {
		return nil, err
	}
	return s.st.UserByID(ctx, userID)
}

func GenerateJWT(userID int, username string) (string, error) {
	claims := jwt.MapClaims{
		"user_id":  userID,
		"username": username,
		"exp":      time.Now().Add(time.Hour * 72).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(utils.GetEnv("JWT_SECRET", "secret")))
}

func GenerateRefreshToken(userID int, username string) (string, error) {
	claims := jwt.MapClaims{
		"user_id":  userID,
		"username": username,
		"typ":      "refresh",
		"exp":      time.Now().Add(time.Hour * 24 * 30).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(utils.GetEnv("JWT_SECRET", "secret")))
}

func ValidateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(utils.GetEnv("JWT_SECRET", "secret")), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

func ValidateRefreshToken(tokenString string) (jwt.MapClaims, error) {
	claims, err := ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if typ, _ := claims["typ"].(string); typ != "refresh" {
		return nil, errors.New("not a refresh token")
	}
	return claims, nil
}
