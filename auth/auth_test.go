package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"social-chat/domain/chat"
	"social-chat/errors"
)

func TestTokenRoundTrip(t *testing.T) {
	req := require.New(t)
	tokens := NewTokenService("test-secret", time.Minute)

	token, err := tokens.GenerateToken(chat.Principal{UserID: 42, Nickname: "alice"})
	req.NoError(err)

	p, err := tokens.ValidateToken(token)
	req.NoError(err)
	req.Equal(chat.UserID(42), p.UserID)
	req.Equal("alice", p.Nickname)
}

func TestValidateToken_Rejected(t *testing.T) {
	req := require.New(t)
	tokens := NewTokenService("test-secret", time.Minute)
	other := NewTokenService("other-secret", time.Minute)
	expired := NewTokenService("test-secret", -time.Minute)

	foreign, err := other.GenerateToken(chat.Principal{UserID: 1})
	req.NoError(err)
	stale, err := expired.GenerateToken(chat.Principal{UserID: 1})
	req.NoError(err)

	for _, token := range []string{"invalid-token-string", foreign, stale} {
		_, err := tokens.ValidateToken(token)
		req.ErrorIs(err, errors.ErrInvalidToken)
		req.True(errors.IsClientError(err))
	}
}

func TestMiddleware(t *testing.T) {
	tokens := NewTokenService("test-secret", time.Minute)
	token, err := tokens.GenerateToken(chat.Principal{UserID: 7, Nickname: "bob"})
	require.NoError(t, err)

	var seen chat.Principal
	handler := Middleware(tokens, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
	}))

	t.Run("should reject a request without token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("should accept a bearer header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, chat.UserID(7), seen.UserID)
	})

	t.Run("should accept a token query parameter", func(t *testing.T) {
		seen = chat.Principal{}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "bob", seen.Nickname)
	})
}

func TestValidateSendMessage(t *testing.T) {
	tests := []struct {
		name    string
		cmd     chat.SendMessageCommand
		wantErr error
	}{
		{"valid", chat.SendMessageCommand{RoomID: 1, Content: "hi"}, nil},
		{"missing room", chat.SendMessageCommand{Content: "hi"}, errors.ErrInvalidRequest},
		{"empty content", chat.SendMessageCommand{RoomID: 1}, errors.ErrInvalidRequest},
		{"blank content", chat.SendMessageCommand{RoomID: 1, Content: "   "}, errors.ErrInvalidRequest},
		{"too long", chat.SendMessageCommand{RoomID: 1, Content: strings.Repeat("é", 11)}, errors.ErrContentTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSendMessage(tt.cmd, 10)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateCreateGroup(t *testing.T) {
	req := require.New(t)
	req.NoError(ValidateCreateGroup(chat.CreateGroupCommand{Name: "team", MemberIDs: []chat.UserID{1, 2}, CreatorID: 1}))
	req.ErrorIs(ValidateCreateGroup(chat.CreateGroupCommand{Name: "", CreatorID: 1}), errors.ErrInvalidRequest)
	req.ErrorIs(ValidateCreateGroup(chat.CreateGroupCommand{Name: "team", MemberIDs: []chat.UserID{-1}, CreatorID: 1}), errors.ErrInvalidRequest)
}
