package middlewares_test

import (
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/middlewares"
)

const (
	TOKEN_HEADER_CLIENT_NAME = middlewares.PSKClientIdHeader
	TOKEN_HEADER_PSK_NAME    = middlewares.PSKHeader
	authFailure              = "Authentication failed\n"
)

func GetTestHandler(expectedClientID string) http.HandlerFunc {
	fn := func(rw http.ResponseWriter, req *http.Request) {
		principal, ok := middlewares.GetPrincipal(req.Context())
		Expect(ok).To(Equal(true))
		Expect(principal.GetClientID()).To(Equal(expectedClientID))
	}

	return http.HandlerFunc(fn)
}

func boiler(req *http.Request, expectedStatusCode int, expectedBody string, expectedClientID string, amw *middlewares.AuthMiddleware) {
	rr := httptest.NewRecorder()
	handler := amw.Authenticate(GetTestHandler(expectedClientID))
	handler.ServeHTTP(rr, req)

	Expect(rr.Code).To(Equal(expectedStatusCode))
	Expect(rr.Body.String()).To(Equal(expectedBody))
}

var _ = Describe("Auth", func() {
	var (
		req *http.Request
		amw *middlewares.AuthMiddleware
	)

	BeforeEach(func() {
		knownSecrets := make(map[string]interface{})
		knownSecrets["test_client_1"] = "12345"
		amw = &middlewares.AuthMiddleware{Secrets: knownSecrets}

		r, err := http.NewRequest("GET", "/api/subtenant-management/v1/tenants", nil)
		if err != nil {
			panic("Test error unable to get new request")
		}
		req = r
	})

	Describe("Using pre-shared key authentication", func() {
		Context("With both auth headers present", func() {
			It("Should return 200 when the key is correct", func() {
				req.Header.Add(TOKEN_HEADER_CLIENT_NAME, "test_client_1")
				req.Header.Add(TOKEN_HEADER_PSK_NAME, "12345")

				boiler(req, 200, "", "test_client_1", amw)
			})

			It("Should return 401 when the key is incorrect", func() {
				req.Header.Add(TOKEN_HEADER_CLIENT_NAME, "test_client_1")
				req.Header.Add(TOKEN_HEADER_PSK_NAME, "54321")

				boiler(req, 401, authFailure, "", amw)
			})

			It("Should return 401 when the client is unknown", func() {
				req.Header.Add(TOKEN_HEADER_CLIENT_NAME, "unknown_client")
				req.Header.Add(TOKEN_HEADER_PSK_NAME, "12345")

				boiler(req, 401, authFailure, "", amw)
			})
		})

		Context("With missing auth headers", func() {
			It("Should return 401 without a client id", func() {
				req.Header.Add(TOKEN_HEADER_PSK_NAME, "12345")

				boiler(req, 401, authFailure, "", amw)
			})

			It("Should return 401 without a key", func() {
				req.Header.Add(TOKEN_HEADER_CLIENT_NAME, "test_client_1")

				boiler(req, 401, authFailure, "", amw)
			})

			It("Should return 401 with no headers at all", func() {
				boiler(req, 401, authFailure, "", amw)
			})
		})
	})
})
