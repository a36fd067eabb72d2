package service

import (
	"context"

	"github.com/animgen/api/internal/model"
	"github.com/animgen/api/internal/store"
)

// ConversationService groups jobs into chat-like threads
type ConversationService struct {
	store *store.Store
}

// NewConversationService creates a new conversation service
func NewConversationService(convStore *store.Store) *ConversationService {
	return &ConversationService{store: convStore}
}

func (s *ConversationService) Create(ctx context.Context, userID, title string) (*model.Conversation, error) {
	return s.store.CreateConversation(ctx, userID, title)
}

func (s *ConversationService) Get(ctx context.Context, id, userID string) (*model.Conversation, error) {
	return s.store.GetConversation(ctx, id, userID)
}

func (s *ConversationService) List(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error) {
	return s.store.ListConversations(ctx, userID, limit, offset)
}

func (s *ConversationService) Rename(ctx context.Context, id, userID, title string) (*model.Conversation, error) {
	return s.store.UpdateConversationTitle(ctx, id, userID, title)
}

func (s *ConversationService) Delete(ctx context.Context, id, userID string) error {
	return s.store.DeleteConversation(ctx, id, userID)
}
