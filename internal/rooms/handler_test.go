package rooms

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/caltalk/bridge/internal/talk"
	"github.com/caltalk/bridge/pkg/response"
)

func runTalkErrorResponse(t *testing.T, err error) (int, response.Body) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	talkErrorResponse(c, err, "room creation failed")

	var body response.Body
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	return w.Code, body
}

func TestTalkErrorResponseAuthentication(t *testing.T) {
	err := &talk.ServiceError{Kind: talk.ErrorAuthentication, StatusCode: 401, Message: "Unauthorised"}
	code, body := runTalkErrorResponse(t, err)

	if code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", code)
	}
	data, ok := body.Data.(map[string]interface{})
	if !ok || data["authentication_error"] != true {
		t.Fatalf("data = %#v, want authentication_error flag", body.Data)
	}
}

func TestTalkErrorResponseServerMessage(t *testing.T) {
	err := fmt.Errorf("create room: %w", &talk.ServiceError{
		Kind:       talk.ErrorServerRejected,
		StatusCode: 500,
		Message:    "database unavailable",
	})
	code, body := runTalkErrorResponse(t, err)

	if code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", code)
	}
	if body.Error != "database unavailable" {
		t.Fatalf("error = %q, want server message", body.Error)
	}
}

func TestTalkErrorResponseFallback(t *testing.T) {
	for _, err := range []error{
		errors.New("dial tcp: connection refused"),
		&talk.ServiceError{Kind: talk.ErrorProtocol, StatusCode: 200},
	} {
		code, body := runTalkErrorResponse(t, err)
		if code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", code)
		}
		if body.Error != "room creation failed" {
			t.Fatalf("error = %q, want fallback", body.Error)
		}
	}
}
