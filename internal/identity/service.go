// Package identity handles how people get into CampusHub: password
// accounts with email verification, one-time magic links, and Google
// sign-in. It only decides who the caller is; session issuance is the
// HTTP layer's job.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"campushub/api/internal/auth"
	"campushub/api/internal/store"
	"campushub/api/internal/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrLinkInvalid        = errors.New("link invalid or expired")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidUsername    = errors.New("username must be 3-24 characters: lowercase letters, digits, underscores")
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,24}$`)

type profileStore interface {
	GetProfile(ctx context.Context, id string) (store.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (store.Profile, error)
	CreateProfile(ctx context.Context, p store.Profile) error
	SetUsername(ctx context.Context, id, username string) error
	SetVerificationToken(ctx context.Context, id, token string, expiresAt time.Time) error
	VerifyEmail(ctx context.Context, token string) error
	SaveMagicLink(ctx context.Context, tokenHash, email string, expiresAt time.Time) error
	ConsumeMagicLink(ctx context.Context, tokenHash string) (string, error)
}

// mailer is the outbound side; delivery is best-effort and never blocks
// an auth flow from completing.
type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, verificationURL string) error
	SendMagicLinkEmail(to, magicLinkURL string) error
}

type Service struct {
	store        profileStore
	mail         mailer
	baseURL      string
	magicLinkTTL time.Duration
}

func NewService(profiles profileStore, mail mailer, baseURL string, magicLinkTTL time.Duration) *Service {
	if magicLinkTTL <= 0 {
		magicLinkTTL = 15 * time.Minute
	}
	return &Service{
		store:        profiles,
		mail:         mail,
		baseURL:      strings.TrimRight(baseURL, "/"),
		magicLinkTTL: magicLinkTTL,
	}
}

// SignUp registers a password account. The profile starts unverified;
// a verification link goes out by email when SMTP is configured.
func (s *Service) SignUp(ctx context.Context, email, password string) (store.Profile, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return store.Profile{}, ErrInvalidEmail
	}
	if len(password) < 8 {
		return store.Profile{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.Profile{}, fmt.Errorf("hash password: %w", err)
	}

	profile := store.Profile{
		ID:           util.NewID("usr"),
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateProfile(ctx, profile); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Profile{}, ErrEmailTaken
		}
		return store.Profile{}, fmt.Errorf("create profile: %w", err)
	}

	verificationToken := util.NewID("")
	if err := s.store.SetVerificationToken(ctx, profile.ID, verificationToken, time.Now().Add(24*time.Hour)); err != nil {
		return store.Profile{}, fmt.Errorf("set verification token: %w", err)
	}

	if s.mail != nil && s.mail.IsConfigured() {
		url := s.baseURL + "/auth/verify?token=" + verificationToken
		if err := s.mail.SendVerificationEmail(email, url); err != nil {
			log.Printf("send verification email to %s failed: %v", email, err)
		}
	}

	return profile, nil
}

// SignIn authenticates a password account. A wrong email and a wrong
// password are indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.Profile, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return store.Profile{}, ErrInvalidCredentials
	}

	profile, err := s.store.GetProfileByEmail(ctx, email)
	if err != nil {
		return store.Profile{}, ErrInvalidCredentials
	}
	// Magic-link-only accounts have no password hash; bcrypt rejects
	// the empty hash, which is exactly the answer we want.
	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)); err != nil {
		return store.Profile{}, ErrInvalidCredentials
	}
	if !profile.IsEmailVerified {
		return store.Profile{}, ErrEmailNotVerified
	}
	return profile, nil
}

// VerifyEmail consumes a verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrLinkInvalid
	}
	if err := s.store.VerifyEmail(ctx, token); err != nil {
		return ErrLinkInvalid
	}
	return nil
}

// RequestMagicLink issues a one-time sign-in link for the address. The
// link is stored hashed and the raw token is returned for delivery; an
// unknown address still gets a link, so the endpoint reveals nothing
// about which emails have accounts.
func (s *Service) RequestMagicLink(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return "", ErrInvalidEmail
	}

	token := util.NewID("")
	expiresAt := time.Now().Add(s.magicLinkTTL)
	if err := s.store.SaveMagicLink(ctx, auth.HashToken(token), email, expiresAt); err != nil {
		return "", fmt.Errorf("save magic link: %w", err)
	}

	if s.mail != nil && s.mail.IsConfigured() {
		url := s.baseURL + "/auth/magic?token=" + token
		if err := s.mail.SendMagicLinkEmail(email, url); err != nil {
			log.Printf("send magic link to %s failed: %v", email, err)
		}
	}

	return token, nil
}

// ConsumeMagicLink redeems a one-time link. First-time addresses get a
// profile created on the spot, already verified since the link proves
// control of the inbox.
func (s *Service) ConsumeMagicLink(ctx context.Context, token string) (store.Profile, error) {
	if strings.TrimSpace(token) == "" {
		return store.Profile{}, ErrLinkInvalid
	}

	email, err := s.store.ConsumeMagicLink(ctx, auth.HashToken(token))
	if err != nil {
		return store.Profile{}, ErrLinkInvalid
	}
	return s.ensureVerifiedProfile(ctx, email)
}

// ChooseUsername completes onboarding. Until this succeeds the access
// gate keeps the account read-only.
func (s *Service) ChooseUsername(ctx context.Context, userID, username string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	if err := s.store.SetUsername(ctx, userID, username); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return ErrUsernameTaken
		}
		return err
	}
	return nil
}

// ensureVerifiedProfile finds or creates the profile for an address
// whose ownership was just proven by an external factor.
func (s *Service) ensureVerifiedProfile(ctx context.Context, email string) (store.Profile, error) {
	profile, err := s.store.GetProfileByEmail(ctx, email)
	if err == nil {
		return profile, nil
	}

	profile = store.Profile{
		ID:              util.NewID("usr"),
		Email:           email,
		IsEmailVerified: true,
	}
	if err := s.store.CreateProfile(ctx, profile); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Raced with another sign-in for the same address.
			return s.store.GetProfileByEmail(ctx, email)
		}
		return store.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	return profile, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\n")
}
