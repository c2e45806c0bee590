package jwt

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/watt-toolkit/ember/pkg/ember/middleware"
)

type fakeRequest struct {
	method  string
	path    string
	headers map[string]string
	ctx     map[string]any
}

func newFakeRequest(method, path string) *fakeRequest {
	return &fakeRequest{method: method, path: path, headers: map[string]string{}}
}

func (r *fakeRequest) Method() string            { return r.method }
func (r *fakeRequest) Path() string              { return r.path }
func (r *fakeRequest) Header(name string) string { return r.headers[name] }
func (r *fakeRequest) SetContextValue(key string, value any) {
	if r.ctx == nil {
		r.ctx = map[string]any{}
	}
	r.ctx[key] = value
}
func (r *fakeRequest) ContextValue(key string) any {
	if r.ctx == nil {
		return nil
	}
	return r.ctx[key]
}

type fakeResponse struct {
	headers map[string]string
	status  int
	body    []byte
	replied bool
}

func newFakeResponse() *fakeResponse { return &fakeResponse{headers: map[string]string{}} }

func (r *fakeResponse) SetHeader(name, value string) { r.headers[name] = value }
func (r *fakeResponse) Reply(status int, body []byte) {
	r.status = status
	r.body = body
	r.replied = true
}
func (r *fakeResponse) Replied() bool { return r.replied }

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func TestJWTRejectsMissingToken(t *testing.T) {
	mw := New([]byte("secret"))
	next := mw(func(req middleware.Request, res middleware.Response) { res.Reply(200, nil) })

	req := newFakeRequest("GET", "/private")
	res := newFakeResponse()
	next(req, res)

	if res.status != 401 {
		t.Fatalf("status = %d, want 401", res.status)
	}
}

func TestJWTAcceptsValidTokenAndStashesClaims(t *testing.T) {
	secret := []byte("secret")
	mw := New(secret)

	var seenClaims jwt.MapClaims
	next := mw(func(req middleware.Request, res middleware.Response) {
		seenClaims, _ = req.ContextValue("jwt_claims").(jwt.MapClaims)
		res.Reply(200, nil)
	})

	req := newFakeRequest("GET", "/private")
	req.headers["Authorization"] = "Bearer " + signToken(t, secret, jwt.MapClaims{"sub": "user-1"})
	res := newFakeResponse()
	next(req, res)

	if res.status != 200 {
		t.Fatalf("status = %d, want 200", res.status)
	}
	if seenClaims["sub"] != "user-1" {
		t.Fatalf("claims not propagated to handler: %+v", seenClaims)
	}
}

func TestJWTRejectsWrongSignature(t *testing.T) {
	mw := New([]byte("secret"))
	next := mw(func(req middleware.Request, res middleware.Response) { res.Reply(200, nil) })

	req := newFakeRequest("GET", "/private")
	req.headers["Authorization"] = "Bearer " + signToken(t, []byte("different-secret"), jwt.MapClaims{"sub": "user-1"})
	res := newFakeResponse()
	next(req, res)

	if res.status != 401 {
		t.Fatalf("status = %d, want 401", res.status)
	}
}

func TestJWTSkipsConfiguredPaths(t *testing.T) {
	mw := WithConfig(Config{Secret: []byte("secret"), SkipPaths: []string{"/login"}})
	called := false
	next := mw(func(req middleware.Request, res middleware.Response) { called = true })

	req := newFakeRequest("POST", "/login")
	res := newFakeResponse()
	next(req, res)

	if !called {
		t.Fatal("a skipped path must reach the wrapped handler without a token")
	}
}
