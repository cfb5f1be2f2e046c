package handlers

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"MegaBrain/pkg/logger"
	"MegaBrain/pkg/supabase"
)

// profileFetchLimit caps concurrent admin lookups per request.
const profileFetchLimit = 8

type profile struct {
	ID    string
	Email string
	Name  string
	Phone string
}

// userLabel is the display name for an account without a profile name.
func userLabel(email, name string) string {
	if name != "" {
		return name
	}
	if email == "" {
		return "사용자"
	}
	if local, _, _ := strings.Cut(email, "@"); local != "" {
		return local
	}
	return email
}

func profileOf(u *supabase.User) profile {
	phone := u.MetadataString("phone")
	if phone == "" {
		phone = u.Phone
	}
	return profile{
		ID:    u.ID,
		Email: u.Email,
		Name:  userLabel(u.Email, u.MetadataString("name")),
		Phone: phone,
	}
}

// profiles looks every distinct id up once. Failed lookups are logged and
// left out of the map.
func (h *Handlers) profiles(ctx context.Context, ids []string) map[string]profile {
	out := make(map[string]profile, len(ids))
	if h.users == nil {
		return out
	}

	seen := make(map[string]bool, len(ids))
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(profileFetchLimit)
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		g.Go(func() error {
			u, err := h.users.GetUserByID(ctx, id)
			if err != nil {
				logger.Debug("profile lookup failed", zap.String("user_id", id), zap.Error(err))
				return nil
			}
			mu.Lock()
			out[id] = profileOf(u)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
