package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/wavemeet/test/testhelpers"
)

func TestHandshakeRequiresCredential(t *testing.T) {
	fixture := testhelpers.StartGateway(t, nil)

	header := http.Header{}
	header.Set("Origin", fixture.Server.URL)

	status := fixture.DialExpectingRefusal(t, header)
	if status != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without credential, got %d", status)
	}
}

func TestHandshakeRejectsInvalidToken(t *testing.T) {
	fixture := testhelpers.StartGateway(t, nil)

	header := http.Header{}
	header.Set("Origin", fixture.Server.URL)
	header.Set("Authorization", "Bearer not-a-valid-token")

	status := fixture.DialExpectingRefusal(t, header)
	if status != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for invalid token, got %d", status)
	}
}

func TestHandshakeRejectsDisallowedOrigin(t *testing.T) {
	fixture := testhelpers.StartGateway(t, nil)

	header := http.Header{}
	header.Set("Origin", "http://evil.example.com")
	header.Set("Authorization", "Bearer "+fixture.Token(t, "user-1", "alice"))

	fixture.DialExpectingRefusal(t, header)
}

func TestTokenInQueryParameter(t *testing.T) {
	fixture := testhelpers.StartGateway(t, nil)

	header := http.Header{}
	header.Set("Origin", fixture.Server.URL)
	dialURL := fixture.WebSocketURL(t) + "?token=" + fixture.Token(t, "user-1", "alice")

	conn, resp, err := websocket.DefaultDialer.Dial(dialURL, header)
	if err != nil {
		t.Fatalf("Expected query-parameter credential to be accepted: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// The authenticated connection observes its own presence broadcast.
	testhelpers.WaitForEvent(t, conn, "presence.changed", 2*time.Second)
}
