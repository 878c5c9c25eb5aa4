package rotation

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	apierrors "github.com/wudi/hyperfast/internal/errors"
	"github.com/wudi/hyperfast/internal/route"
)

func newRoute() *route.Route {
	return route.New(httptest.NewRequest("GET", "/health", nil), time.Now(), "h")
}

func TestInitialState(t *testing.T) {
	c := New()
	if c.InRotation() {
		t.Error("new controller should be out of rotation")
	}
	if c.ShuttingDown() {
		t.Error("new controller should not be shutting down")
	}
	_, err := c.Status(newRoute())
	if !errors.Is(err, apierrors.ErrInternal) {
		t.Errorf("Status() err = %v, want internal error", err)
	}
}

func TestToggle(t *testing.T) {
	c := New()

	resp, err := c.Toggle(newRoute())
	if err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "OK" {
		t.Errorf("body = %q, want OK", b)
	}

	_, err = c.Toggle(newRoute())
	apiErr := apierrors.FromError(err)
	if apiErr == nil || apiErr.Code() != http.StatusInternalServerError {
		t.Fatalf("second toggle err = %v, want 500", err)
	}
	if !strings.Contains(apiErr.Body(), "NOK") {
		t.Errorf("body = %q, want NOK", apiErr.Body())
	}
}

func TestToggleEvenTimesRestores(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Flip()
		}()
	}
	wg.Wait()
	if c.InRotation() {
		t.Error("an even number of flips should leave the controller out of rotation")
	}
}

func TestShutdownIsTerminal(t *testing.T) {
	c := New()
	c.Flip()
	if !c.InRotation() {
		t.Fatal("expected in rotation")
	}

	c.Shutdown()
	if c.InRotation() {
		t.Error("shutdown should take the controller out of rotation")
	}
	if c.Flip() {
		t.Error("Flip after shutdown should not return to rotation")
	}
	c.SetInRotation(true)
	if c.InRotation() {
		t.Error("SetInRotation after shutdown should be ignored")
	}
	if !c.ShuttingDown() {
		t.Error("ShuttingDown() should be true")
	}
}
