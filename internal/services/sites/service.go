// Package sites implements site management: CRUD, membership roles, extra
// domains and per-site tracker settings.
package sites

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/onevisitor/onevisitor/internal/domain/site"
	serviceerrors "github.com/onevisitor/onevisitor/internal/errors"
	"github.com/onevisitor/onevisitor/internal/logging"
	"github.com/onevisitor/onevisitor/internal/storage"
)

// Service manages sites and their memberships.
type Service struct {
	sites storage.SiteStore
	users storage.UserStore
	log   *logging.Logger
}

// New constructs a site service. The user store resolves email invites.
func New(sites storage.SiteStore, users storage.UserStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("sites")
	}
	return &Service{sites: sites, users: users, log: log}
}

// newTrackingCode mints the public identifier embedded in the snippet.
func newTrackingCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate tracking code: %w", err)
	}
	return "ov-" + hex.EncodeToString(buf), nil
}

// Create registers a site and seeds its default settings.
func (s *Service) Create(ctx context.Context, ownerID, name, domain string) (site.Site, error) {
	if ownerID == "" {
		return site.Site{}, fmt.Errorf("owner id is required")
	}
	name = strings.TrimSpace(name)
	domain = normalizeDomain(domain)
	if name == "" {
		return site.Site{}, serviceerrors.BadRequest("name is required")
	}
	if domain == "" {
		return site.Site{}, serviceerrors.BadRequest("domain is required")
	}

	code, err := newTrackingCode()
	if err != nil {
		return site.Site{}, err
	}

	created, err := s.sites.CreateSite(ctx, site.Site{
		OwnerID:      ownerID,
		Name:         name,
		Domain:       domain,
		TrackingCode: code,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return site.Site{}, serviceerrors.Conflict("domain is already registered")
		}
		return site.Site{}, err
	}

	if _, err := s.sites.UpsertSettings(ctx, site.DefaultSettings(created.ID)); err != nil {
		return site.Site{}, err
	}

	s.log.Infof("site %s created for %s", created.ID, created.Domain)
	return created, nil
}

// Get returns a site the user can see.
func (s *Service) Get(ctx context.Context, userID, siteID string) (site.Site, error) {
	st, _, err := s.authorize(ctx, userID, siteID, false)
	return st, err
}

// List returns every site the user owns or is a member of.
func (s *Service) List(ctx context.Context, userID string) ([]site.Site, error) {
	return s.sites.ListSitesForUser(ctx, userID)
}

// Update overwrites the mutable fields of a site. Requires an editing role.
func (s *Service) Update(ctx context.Context, userID string, update site.Site) (site.Site, error) {
	existing, _, err := s.authorize(ctx, userID, update.ID, true)
	if err != nil {
		return site.Site{}, err
	}

	if update.Name = strings.TrimSpace(update.Name); update.Name == "" {
		update.Name = existing.Name
	}
	if update.Domain = normalizeDomain(update.Domain); update.Domain == "" {
		update.Domain = existing.Domain
	}
	update.TrackingCode = existing.TrackingCode

	updated, err := s.sites.UpdateSite(ctx, update)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return site.Site{}, serviceerrors.Conflict("domain is already registered")
		}
		return site.Site{}, err
	}
	return updated, nil
}

// Delete removes a site and all of its data. Owner only.
func (s *Service) Delete(ctx context.Context, userID, siteID string) error {
	st, err := s.sites.GetSite(ctx, siteID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return serviceerrors.NotFound("site")
		}
		return err
	}
	if st.OwnerID != userID {
		return serviceerrors.Forbidden("only the owner can delete a site")
	}
	if err := s.sites.DeleteSite(ctx, siteID); err != nil {
		return err
	}
	s.log.Infof("site %s deleted", siteID)
	return nil
}

// --- members ----------------------------------------------------------------

// Invite adds a registered user to a site by email.
func (s *Service) Invite(ctx context.Context, actorID, siteID, email, role string) (site.Member, error) {
	if _, _, err := s.authorize(ctx, actorID, siteID, true); err != nil {
		return site.Member{}, err
	}
	if !validRole(role) {
		return site.Member{}, serviceerrors.BadRequest("role must be admin or viewer")
	}

	invited, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return site.Member{}, serviceerrors.NotFound("user")
		}
		return site.Member{}, err
	}

	member, err := s.sites.AddMember(ctx, site.Member{
		SiteID:   siteID,
		UserID:   invited.ID,
		Role:     role,
		IsActive: true,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return site.Member{}, serviceerrors.Conflict("user is already a member")
		}
		return site.Member{}, err
	}
	s.log.Infof("user %s added to site %s as %s", invited.ID, siteID, role)
	return member, nil
}

// SetMemberRole changes a member's role.
func (s *Service) SetMemberRole(ctx context.Context, actorID, siteID, memberUserID, role string) (site.Member, error) {
	st, _, err := s.authorize(ctx, actorID, siteID, true)
	if err != nil {
		return site.Member{}, err
	}
	if !validRole(role) {
		return site.Member{}, serviceerrors.BadRequest("role must be admin or viewer")
	}
	if memberUserID == st.OwnerID {
		return site.Member{}, serviceerrors.Forbidden("the owner's role cannot be changed")
	}

	member, err := s.sites.GetMember(ctx, siteID, memberUserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return site.Member{}, serviceerrors.NotFound("member")
		}
		return site.Member{}, err
	}
	member.Role = role
	return s.sites.UpdateMember(ctx, member)
}

// RemoveMember drops a user's membership.
func (s *Service) RemoveMember(ctx context.Context, actorID, siteID, memberUserID string) error {
	st, _, err := s.authorize(ctx, actorID, siteID, true)
	if err != nil {
		return err
	}
	if memberUserID == st.OwnerID {
		return serviceerrors.Forbidden("the owner cannot be removed")
	}
	if err := s.sites.RemoveMember(ctx, siteID, memberUserID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return serviceerrors.NotFound("member")
		}
		return err
	}
	return nil
}

// Members lists a site's memberships.
func (s *Service) Members(ctx context.Context, userID, siteID string) ([]site.Member, error) {
	if _, _, err := s.authorize(ctx, userID, siteID, false); err != nil {
		return nil, err
	}
	return s.sites.ListMembers(ctx, siteID)
}

// --- extra domains ----------------------------------------------------------

// AddDomain attaches an additional hostname pending verification.
func (s *Service) AddDomain(ctx context.Context, userID, siteID, domain string) (site.Domain, error) {
	if _, _, err := s.authorize(ctx, userID, siteID, true); err != nil {
		return site.Domain{}, err
	}
	domain = normalizeDomain(domain)
	if domain == "" {
		return site.Domain{}, serviceerrors.BadRequest("domain is required")
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return site.Domain{}, fmt.Errorf("generate verification code: %w", err)
	}

	created, err := s.sites.CreateSiteDomain(ctx, site.Domain{
		SiteID:           siteID,
		Domain:           domain,
		VerificationCode: hex.EncodeToString(buf),
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return site.Domain{}, serviceerrors.Conflict("domain is already registered")
		}
		return site.Domain{}, err
	}
	return created, nil
}

// VerifyDomain marks a domain verified when the presented code matches.
func (s *Service) VerifyDomain(ctx context.Context, userID, siteID, domainID, code string) (site.Domain, error) {
	if _, _, err := s.authorize(ctx, userID, siteID, true); err != nil {
		return site.Domain{}, err
	}

	domains, err := s.sites.ListSiteDomains(ctx, siteID)
	if err != nil {
		return site.Domain{}, err
	}
	for _, d := range domains {
		if d.ID != domainID {
			continue
		}
		if d.Verified {
			return d, nil
		}
		if d.VerificationCode != code {
			return site.Domain{}, serviceerrors.BadRequest("verification code does not match")
		}
		d.Verified = true
		return s.sites.UpdateSiteDomain(ctx, d)
	}
	return site.Domain{}, serviceerrors.NotFound("domain")
}

// Domains lists a site's extra hostnames.
func (s *Service) Domains(ctx context.Context, userID, siteID string) ([]site.Domain, error) {
	if _, _, err := s.authorize(ctx, userID, siteID, false); err != nil {
		return nil, err
	}
	return s.sites.ListSiteDomains(ctx, siteID)
}

// RemoveDomain detaches an extra hostname.
func (s *Service) RemoveDomain(ctx context.Context, userID, siteID, domainID string) error {
	if _, _, err := s.authorize(ctx, userID, siteID, true); err != nil {
		return err
	}
	domains, err := s.sites.ListSiteDomains(ctx, siteID)
	if err != nil {
		return err
	}
	for _, d := range domains {
		if d.ID == domainID {
			return s.sites.DeleteSiteDomain(ctx, domainID)
		}
	}
	return serviceerrors.NotFound("domain")
}

// --- settings ---------------------------------------------------------------

// Settings returns the site's tracker settings, defaulted if never saved.
func (s *Service) Settings(ctx context.Context, userID, siteID string) (site.Settings, error) {
	if _, _, err := s.authorize(ctx, userID, siteID, false); err != nil {
		return site.Settings{}, err
	}
	cfg, err := s.sites.GetSettings(ctx, siteID)
	if errors.Is(err, storage.ErrNotFound) {
		return site.DefaultSettings(siteID), nil
	}
	return cfg, err
}

// UpdateSettings overwrites the site's tracker settings.
func (s *Service) UpdateSettings(ctx context.Context, userID string, cfg site.Settings) (site.Settings, error) {
	if _, _, err := s.authorize(ctx, userID, cfg.SiteID, true); err != nil {
		return site.Settings{}, err
	}
	if cfg.DataRetentionDays < 0 {
		return site.Settings{}, serviceerrors.BadRequest("data retention must not be negative")
	}
	return s.sites.UpsertSettings(ctx, cfg)
}

// --- helpers ----------------------------------------------------------------

// authorize loads the site and resolves the caller's role. With edit set, a
// viewer role is rejected.
func (s *Service) authorize(ctx context.Context, userID, siteID string, edit bool) (site.Site, string, error) {
	if siteID == "" {
		return site.Site{}, "", serviceerrors.BadRequest("site id is required")
	}
	st, err := s.sites.GetSite(ctx, siteID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return site.Site{}, "", serviceerrors.NotFound("site")
		}
		return site.Site{}, "", err
	}
	if st.OwnerID == userID {
		return st, site.RoleOwner, nil
	}

	member, err := s.sites.GetMember(ctx, siteID, userID)
	if err != nil || !member.IsActive {
		return site.Site{}, "", serviceerrors.NotFound("site")
	}
	if edit && !member.CanEdit() {
		return site.Site{}, "", serviceerrors.Forbidden("viewer role cannot modify the site")
	}
	return st, member.Role, nil
}

func validRole(role string) bool {
	return role == site.RoleAdmin || role == site.RoleViewer
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	return strings.TrimSuffix(domain, "/")
}
