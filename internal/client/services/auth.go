// Package services contains the application services of the planbook
// client. PlannerService owns every local mutation of tasks, categories and
// time blocks; AuthService keeps the access token used against the server.
package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/dmitrijs2005/planbook/internal/client/repositories/repomanager"
)

var ErrNotLoggedIn = errors.New("no access token stored, run `token` first")

// AuthService stores the bearer token issued by the server administrator.
type AuthService interface {
	SaveToken(ctx context.Context, token string) error
	// Token returns the stored token, or "" when there is none.
	Token(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
}

type authService struct {
	db    *sql.DB
	repos repomanager.RepositoryManager
}

func NewAuthService(db *sql.DB, repos repomanager.RepositoryManager) AuthService {
	return &authService{db: db, repos: repos}
}

func (a *authService) SaveToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is empty")
	}
	return a.repos.Metadata(a.db).SetAccessToken(ctx, token)
}

func (a *authService) Token(ctx context.Context) (string, error) {
	return a.repos.Metadata(a.db).AccessToken(ctx)
}

// Logout forgets the token. Local data and queued changes stay.
func (a *authService) Logout(ctx context.Context) error {
	return a.repos.Metadata(a.db).DeleteAccessToken(ctx)
}
