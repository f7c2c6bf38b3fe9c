package bridge

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// videoGrant carries the room permissions of a transport access token.
type videoGrant struct {
	RoomJoin          bool     `json:"roomJoin,omitempty"`
	RoomAdmin         bool     `json:"roomAdmin,omitempty"`
	RoomList          bool     `json:"roomList,omitempty"`
	Room              string   `json:"room,omitempty"`
	CanPublish        bool     `json:"canPublish"`
	CanSubscribe      bool     `json:"canSubscribe"`
	CanPublishData    bool     `json:"canPublishData"`
	CanPublishSources []string `json:"canPublishSources,omitempty"`
}

type accessClaims struct {
	jwt.RegisteredClaims
	Name  string      `json:"name,omitempty"`
	Video *videoGrant `json:"video,omitempty"`
}

// AccessToken signs an HS256 token that lets identity monitor rooms and
// publish audio.
func AccessToken(apiKey, apiSecret, identity, room string, ttl time.Duration, now time.Time) (string, error) {
	if apiKey == "" || apiSecret == "" {
		return "", fmt.Errorf("bridge: api key and secret are required")
	}
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    apiKey,
			Subject:   identity,
			ID:        identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: "Voice Monitor",
		Video: &videoGrant{
			RoomJoin:          true,
			RoomAdmin:         true,
			RoomList:          true,
			Room:              room,
			CanPublish:        true,
			CanSubscribe:      true,
			CanPublishData:    true,
			CanPublishSources: []string{"microphone"},
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(apiSecret))
	if err != nil {
		return "", fmt.Errorf("bridge: sign token: %w", err)
	}
	return signed, nil
}
