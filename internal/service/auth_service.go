package service

import (
	"context"
	"time"

	"emilock-server/internal/domain"
	"emilock-server/internal/repository"
	"emilock-server/pkg/hash"
	"emilock-server/pkg/jwt"
)

type AuthService struct {
	adminRepo         repository.AdminRepository
	jwtSecret         string
	jwtExpiration     time.Duration
	refreshExpiration time.Duration
}

func NewAuthService(adminRepo repository.AdminRepository, jwtSecret string, jwtExp, refreshExp time.Duration) *AuthService {
	return &AuthService{
		adminRepo:         adminRepo,
		jwtSecret:         jwtSecret,
		jwtExpiration:     jwtExp,
		refreshExpiration: refreshExp,
	}
}

func invalidCredentials() error {
	return newError(CodeUnauthorized, "invalid credentials", nil)
}

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	admin, err := s.adminRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, invalidCredentials()
	}

	if err := hash.Compare(admin.Password, req.Password); err != nil {
		return nil, invalidCredentials()
	}

	accessToken, err := jwt.GenerateToken(admin.ID, s.jwtExpiration, s.jwtSecret)
	if err != nil {
		return nil, wrapError(CodeStoreUnavailable, "failed to generate access token", err)
	}

	refreshToken, err := jwt.GenerateRefreshToken(admin.ID, s.refreshExpiration, s.jwtSecret)
	if err != nil {
		return nil, wrapError(CodeStoreUnavailable, "failed to generate refresh token", err)
	}

	admin.Password = ""

	return &domain.LoginResponse{
		User:         admin,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtExpiration.Seconds()),
	}, nil
}

func (s *AuthService) RefreshToken(ctx context.Context, req *domain.RefreshTokenRequest) (*domain.TokenResponse, error) {
	claims, err := jwt.ValidateSubject(req.RefreshToken, s.jwtSecret, jwt.SubjectRefresh)
	if err != nil {
		return nil, newError(CodeUnauthorized, "invalid refresh token", nil)
	}

	if _, err := s.adminRepo.FindByID(ctx, claims.UserID); err != nil {
		return nil, newError(CodeUnauthorized, "invalid refresh token", nil)
	}

	accessToken, err := jwt.GenerateToken(claims.UserID, s.jwtExpiration, s.jwtSecret)
	if err != nil {
		return nil, wrapError(CodeStoreUnavailable, "failed to generate access token", err)
	}

	return &domain.TokenResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.jwtExpiration.Seconds()),
	}, nil
}

// Authenticate resolves an access token to the admin it was issued to.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.AdminUser, error) {
	claims, err := jwt.ValidateSubject(token, s.jwtSecret, jwt.SubjectAccess)
	if err != nil {
		return nil, newError(CodeUnauthorized, "invalid or expired token", nil)
	}

	admin, err := s.adminRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, newError(CodeUnauthorized, "unknown admin", nil)
	}
	admin.Password = ""
	return admin, nil
}
