package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dkeye/callbot/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

const tokenPath = "/api/v1/token"

type tokenRequest struct {
	RoomID string `json:"room_id"`
	CallID string `json:"call_id"`
}

type tokenResponse struct {
	Token string `json:"token"`
	JWT   string `json:"jwt"`
	URL   string `json:"url"`
}

func (b *Broker) exchange(ctx context.Context, endpoint, credential string, roomID domain.RoomID, callID string) (domain.SessionToken, error) {
	if credential == "" {
		return domain.SessionToken{}, domain.NewBrokerError(domain.ReasonTokenRejected, errors.New("empty chat credential"))
	}
	body, err := json.Marshal(tokenRequest{RoomID: string(roomID), CallID: callID})
	if err != nil {
		return domain.SessionToken{}, domain.NewBrokerError(domain.ReasonEndpointUnreachable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	url := endpoint + tokenPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.SessionToken{}, domain.NewBrokerError(domain.ReasonEndpointUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := b.client.Do(req)
	if err != nil {
		return domain.SessionToken{}, domain.NewBrokerError(domain.ReasonEndpointUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return domain.SessionToken{}, domain.NewBrokerError(domain.ReasonEndpointUnreachable, fmt.Errorf("token endpoint returned %s", resp.Status))
	case resp.StatusCode >= 300:
		return domain.SessionToken{}, domain.NewBrokerError(domain.ReasonTokenRejected, fmt.Errorf("token endpoint returned %s", resp.Status))
	}

	var tr tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&tr); err != nil {
		return domain.SessionToken{}, domain.NewBrokerError(domain.ReasonTokenRejected, fmt.Errorf("decode token response: %w", err))
	}
	value := tr.Token
	if value == "" {
		value = tr.JWT
	}
	if value == "" {
		return domain.SessionToken{}, domain.NewBrokerError(domain.ReasonTokenRejected, errors.New("response carries no token"))
	}

	tok := domain.SessionToken{Endpoint: url, Value: value, ServerURL: tr.URL}
	if exp, ok := expiry(value); ok {
		if !exp.After(b.now()) {
			return domain.SessionToken{}, domain.NewBrokerError(domain.ReasonTokenRejected, fmt.Errorf("token expired at %s", exp.Format(time.RFC3339)))
		}
		tok.ExpiresAt = exp
	}
	return tok, nil
}

// expiry reads the exp claim without verifying the signature; the media
// server is the one that verifies. Opaque tokens have no expiry.
func expiry(value string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(value, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
