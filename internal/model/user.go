package model

import "time"

// User is an account record synced from the identity provider on first login
type User struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	ClerkID         *string   `json:"clerkId,omitempty" gorm:"uniqueIndex"`
	Email           string    `json:"email"`
	Name            *string   `json:"name,omitempty"`
	APIKey          *string   `json:"apiKey,omitempty"`
	Credits         int       `json:"credits"`
	GenerationCount int       `json:"generationCount"`
	Plan            string    `json:"plan"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Conversation groups jobs into a chat-like thread
type Conversation struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"userId" gorm:"index"`
	Title     string    `json:"title"`
	Jobs      []Job     `json:"jobs,omitempty" gorm:"foreignKey:ConversationID"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationCreateRequest is the body for creating or renaming a conversation
type ConversationCreateRequest struct {
	Title string `json:"title" validate:"required,min=1,max=200"`
}

// APIKeyResponse carries a freshly rotated personal key
type APIKeyResponse struct {
	APIKey string `json:"apiKey"`
}

// UsageResponse reports account usage counters
type UsageResponse struct {
	Credits         int    `json:"credits"`
	GenerationCount int    `json:"generationCount"`
	Plan            string `json:"plan"`
}
