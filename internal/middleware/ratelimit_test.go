package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

func newLimitedApp(t *testing.T, perHour int) (*fiber.App, *miniredis.Miniredis) {
	t.Helper()

	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mini.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { rdb.Close() })

	app := fiber.New()
	app.Post("/upload", NewRateLimiter(rdb).UploadLimit(perHour), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app, mini
}

func hit(t *testing.T, app *fiber.App) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "/upload", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestUploadLimitAllowsUpToMax(t *testing.T) {
	app, _ := newLimitedApp(t, 3)

	for i := 0; i < 3; i++ {
		if code := hit(t, app); code != http.StatusOK {
			t.Fatalf("request %d blocked with %d, want 200", i+1, code)
		}
	}
	if code := hit(t, app); code != http.StatusTooManyRequests {
		t.Errorf("request over the limit = %d, want 429", code)
	}
}

func TestUploadLimitResetsAfterWindow(t *testing.T) {
	app, mini := newLimitedApp(t, 1)

	if code := hit(t, app); code != http.StatusOK {
		t.Fatalf("first request blocked with %d", code)
	}
	if code := hit(t, app); code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", code)
	}

	// The counter carries an expiry, so the window ends on its own.
	mini.FastForward(2 * time.Hour)

	if code := hit(t, app); code != http.StatusOK {
		t.Errorf("request after window = %d, want 200", code)
	}
}

func TestUploadLimitFailsOpenWithoutRedis(t *testing.T) {
	app, mini := newLimitedApp(t, 1)
	mini.Close()

	for i := 0; i < 3; i++ {
		if code := hit(t, app); code != http.StatusOK {
			t.Errorf("request %d with Redis down = %d, want 200", i+1, code)
		}
	}
}

func TestUploadLimitDisabledWhenZero(t *testing.T) {
	app, _ := newLimitedApp(t, 0)

	for i := 0; i < 5; i++ {
		if code := hit(t, app); code != http.StatusOK {
			t.Errorf("request %d with no limit = %d, want 200", i+1, code)
		}
	}
}
