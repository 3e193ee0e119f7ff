package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// maxAuthAttempts closes the connection after this many bad signatures
const maxAuthAttempts = 3

// Sign returns the hex HMAC-SHA256 of challenge under secret. Clients answer
// the auth.challenge frame with it.
func Sign(secret, challenge string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

// handshake runs the challenge-response exchange. A zero handshake (no
// secret) admits every client at once.
type handshake struct {
	secret string
}

func (h handshake) enabled() bool {
	return h.secret != ""
}

// open moves c to its first state: authenticated when the handshake is off,
// otherwise authenticating with a fresh 32-byte challenge to send.
func (h handshake) open(c *Client) (challenge string, err error) {
	if !h.enabled() {
		c.setState(StateAuthenticated)
		return "", nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	challenge = hex.EncodeToString(buf)

	c.mu.Lock()
	c.challenge = challenge
	c.state = StateAuthenticating
	c.mu.Unlock()
	return challenge, nil
}

// answer checks signature against the outstanding challenge. keep is false
// once the client has used up its attempts.
func (h handshake) answer(c *Client, signature string) (result AuthResult, keep bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.challenge == "" {
		return AuthResult{Event: "auth.failure", Message: "No challenge found"}, true
	}

	want := Sign(h.secret, c.challenge)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		c.failures++
		if c.failures >= maxAuthAttempts {
			return AuthResult{Event: "auth.failure", Message: "Too many failed attempts"}, false
		}
		return AuthResult{Event: "auth.failure", Message: "Invalid signature"}, true
	}

	c.state = StateAuthenticated
	c.challenge = ""
	c.failures = 0
	return AuthResult{Event: "auth.success", Success: true}, true
}
