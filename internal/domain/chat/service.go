package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/practice/internal/platform/apierr"
	"github.com/clinicore/practice/internal/platform/reqctx"
	"github.com/clinicore/practice/internal/platform/tenancy"
)

const (
	maxBodyLength = 4000
	defaultLimit  = 50
	maxLimit      = 200
)

type Service struct {
	repo   Repository
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, now: time.Now, logger: logger.With().Str("component", "chat").Logger()}
}

// tenant returns the caller's tenant. Transcripts are never read or written
// without one.
func tenant(ctx context.Context, action tenancy.Action) (string, error) {
	id, ok := reqctx.TenantID(ctx)
	if !ok || id == "" {
		return "", fmt.Errorf("chat %s without tenant: %w", action, tenancy.ErrScopeViolation)
	}
	return id, nil
}

func (s *Service) Post(ctx context.Context, conversationID, body string) (*Message, error) {
	tenantID, err := tenant(ctx, tenancy.ActionCreate)
	if err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if conversationID == "" || body == "" {
		return nil, fmt.Errorf("%w: conversation and body are required", apierr.ErrInvalid)
	}
	if len(body) > maxBodyLength {
		return nil, fmt.Errorf("%w: message exceeds %d bytes", apierr.ErrInvalid, maxBodyLength)
	}
	m := &Message{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Body:           body,
		CreatedAt:      s.now().UTC(),
	}
	if u, ok := reqctx.CurrentUser(ctx); ok {
		m.SenderID = u.ID
		m.SenderRole = u.Role
	}
	if err := s.repo.Append(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Debug().Str("tenant_id", tenantID).Str("conversation_id", conversationID).Msg("chat message stored")
	return m, nil
}

// Messages returns one page of a transcript, oldest first.
func (s *Service) Messages(ctx context.Context, conversationID string, before time.Time, limit int) (*Page, error) {
	tenantID, err := tenant(ctx, tenancy.ActionReadMany)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	msgs, err := s.repo.List(ctx, tenantID, conversationID, before, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	page := &Page{Messages: msgs}
	if page.Messages == nil {
		page.Messages = []*Message{}
	}
	if len(msgs) == limit {
		page.Before = msgs[0].CreatedAt.Format(time.RFC3339Nano)
	}
	return page, nil
}

func (s *Service) DeleteConversation(ctx context.Context, conversationID string) error {
	tenantID, err := tenant(ctx, tenancy.ActionDelete)
	if err != nil {
		return err
	}
	n, err := s.repo.DeleteConversation(ctx, tenantID, conversationID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
