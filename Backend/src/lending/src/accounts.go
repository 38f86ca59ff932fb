package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// LendingCounter reports how many lendings a user still holds.
type LendingCounter interface {
	CountByUser(ctx context.Context, q Querier, userID string) (int, error)
}

// AccountService covers registration, login and account administration.
type AccountService struct {
	users    *UserDirectory
	tokens   *TokenIssuer
	tx       Transactor
	lendings LendingCounter
	log      zerolog.Logger
}

func NewAccountService(users *UserDirectory, tokens *TokenIssuer, tx Transactor, lendings LendingCounter, log zerolog.Logger) *AccountService {
	return &AccountService{users: users, tokens: tokens, tx: tx, lendings: lendings, log: log.With().Str("component", "accounts").Logger()}
}

type RegisterRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

type LoginResult struct {
	Token string `json:"token"`
	Role  Role   `json:"role"`
	User  User   `json:"user"`
}

func (s *AccountService) Register(ctx context.Context, req RegisterRequest) (User, error) {
	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		return User{}, fmt.Errorf("%w: first and last name are required", ErrInvalidArgument)
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return User{}, err
	}
	u, err := s.users.Create(ctx, User{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		PhoneNumber:  req.PhoneNumber,
		PasswordHash: hash,
		Role:         RoleStandardUser,
	})
	if err != nil {
		return User{}, err
	}
	s.log.Info().Str("user", u.ID).Msg("user registered")
	return u, nil
}

func (s *AccountService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	if err := CheckPassword(u.PasswordHash, password); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	tok, err := s.tokens.Issue(u.Email, u.Role)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: tok, Role: u.Role, User: u}, nil
}

// Resolve turns a raw bearer token into a caller. Missing, invalid or
// expired tokens, and tokens for deleted users, all resolve to Anonymous.
func (s *AccountService) Resolve(ctx context.Context, raw string) CallerContext {
	if raw == "" {
		return Anonymous()
	}
	email, _, err := s.tokens.Verify(raw)
	if err != nil {
		s.log.Debug().Err(err).Msg("rejected bearer token")
		return Anonymous()
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error().Err(err).Msg("resolving caller")
		}
		return Anonymous()
	}
	return NewCallerContext(u.ID, u.Email, u.Role)
}

func (s *AccountService) Me(ctx context.Context, caller CallerContext) (User, error) {
	if !caller.Authenticated() {
		return User{}, ErrUnauthenticated
	}
	return s.users.GetByID(ctx, caller.UserID())
}

func (s *AccountService) List(ctx context.Context, caller CallerContext) ([]User, error) {
	if err := caller.Authorize(OpListUsers, ""); err != nil {
		return nil, err
	}
	return s.users.List(ctx)
}

func (s *AccountService) Get(ctx context.Context, caller CallerContext, id string) (User, error) {
	if err := caller.Authorize(OpReadUser, id); err != nil {
		return User{}, err
	}
	return s.users.GetByID(ctx, id)
}

type UpdateUserRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhoneNumber string `json:"phoneNumber"`
}

func (s *AccountService) Update(ctx context.Context, caller CallerContext, id string, req UpdateUserRequest) (User, error) {
	if err := caller.Authorize(OpEditUser, id); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		return User{}, fmt.Errorf("%w: first and last name are required", ErrInvalidArgument)
	}
	return s.users.UpdateProfile(ctx, id, req.FirstName, req.LastName, req.PhoneNumber)
}

// Delete refuses while the user still holds lendings, so no lending outlives
// its owner. Count and delete share a transaction with lending creation.
func (s *AccountService) Delete(ctx context.Context, caller CallerContext, id string) error {
	if err := caller.Authorize(OpEditUser, id); err != nil {
		return err
	}
	err := s.tx.InTx(ctx, "delete user", func(ctx context.Context, tx *sql.Tx) error {
		n, err := s.lendings.CountByUser(ctx, tx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: user %s still holds %d lending(s)", ErrInvalidState, id, n)
		}
		return s.users.Delete(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("user", id).Str("by", caller.UserID()).Msg("user deleted")
	return nil
}

func (s *AccountService) ChangePassword(ctx context.Context, caller CallerContext, id, password string) error {
	if err := caller.Authorize(OpEditUser, id); err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, id, hash)
}

func (s *AccountService) ChangeRole(ctx context.Context, caller CallerContext, id, role string) (User, error) {
	if err := caller.Authorize(OpChangeRole, id); err != nil {
		return User{}, err
	}
	r := ParseRole(role)
	if r == RoleAnyone {
		return User{}, fmt.Errorf("%w: role must be standard_user or administrator", ErrInvalidArgument)
	}
	u, err := s.users.UpdateRole(ctx, id, r)
	if err != nil {
		return User{}, err
	}
	s.log.Info().Str("user", id).Str("role", r.String()).Msg("role changed")
	return u, nil
}
