package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func runTimeout(t *testing.T, timeout time.Duration, req *http.Request, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, RequestTimeout(timeout)(handler)(c)
}

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rips/versions", nil)
	rec, err := runTimeout(t, 5*time.Second, req, func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected context to have a deadline")
		}
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequestTimeout_DeadlineBecomesGatewayTimeout(t *testing.T) {
	tests := []struct {
		name string
		wrap func(error) error
	}{
		{"bare", func(err error) error { return err }},
		{"wrapped", func(err error) error { return fmt.Errorf("generate AF: %w", err) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/rips/versions/2275/generate", nil)
			_, err := runTimeout(t, 20*time.Millisecond, req, func(c echo.Context) error {
				<-c.Request().Context().Done()
				return tt.wrap(c.Request().Context().Err())
			})
			var he *echo.HTTPError
			if !errors.As(err, &he) {
				t.Fatalf("expected echo.HTTPError, got %T", err)
			}
			if he.Code != http.StatusGatewayTimeout {
				t.Errorf("expected 504, got %d", he.Code)
			}
			if !errors.Is(he.Internal, context.DeadlineExceeded) {
				t.Errorf("expected internal deadline error, got %v", he.Internal)
			}
		})
	}
}

func TestRequestTimeout_ClientCancelBecomesUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rips/migrate", nil).WithContext(ctx)

	_, err := runTimeout(t, 5*time.Second, req, func(c echo.Context) error {
		return c.Request().Context().Err()
	})
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", err)
	}
}

func TestRequestTimeout_KeepsMappedErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rips/artifacts/123", nil)
	_, err := runTimeout(t, 5*time.Second, req, func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "artifact not found")
	})
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", he.Code)
	}
}

func TestRequestTimeout_OtherErrorsUnchanged(t *testing.T) {
	boom := errors.New("boom")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rips/versions", nil)
	_, err := runTimeout(t, 5*time.Second, req, func(c echo.Context) error { return boom })
	if err != boom {
		t.Fatalf("expected the handler error, got %v", err)
	}
}
