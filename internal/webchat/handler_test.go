package webchat

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitalishealth/bookingai/pkg/logging"
)

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "acct1:sess1", sessionKey("acct1", "sess1"))
	assert.NotEqual(t, sessionKey("acct1", "sess2"), sessionKey("acct2", "sess1"))
}

func TestNewSessionID_Unique(t *testing.T) {
	a := newSessionID()
	b := newSessionID()
	assert.NotEmpty(t, a)
	assert.Len(t, a, 32) // 16 random bytes, hex-encoded
	assert.NotEqual(t, a, b)
}

func TestHandleWidgetJS(t *testing.T) {
	h := NewHandler(nil, nil, nil, []byte("console.log('widget');"), logging.New("error"))

	req := httptest.NewRequest("GET", "/webchat/widget.js", nil)
	rec := httptest.NewRecorder()
	h.HandleWidgetJS(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/javascript", rec.Header().Get("Content-Type"))
	assert.Equal(t, "console.log('widget');", rec.Body.String())
}

func TestHandleWebSocket_MissingDoctorParam(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, logging.New("error"))

	req := httptest.NewRequest("GET", "/webchat/ws", nil)
	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, req)

	assert.Equal(t, 400, rec.Code)
}

func TestHandleMessage_MissingFields(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, logging.New("error"))

	req := httptest.NewRequest("POST", "/webchat/message", nil)
	rec := httptest.NewRecorder()
	h.HandleMessage(rec, req)

	assert.Equal(t, 400, rec.Code)
}
