package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// TelegramSecretHeader carries the shared secret on webhook deliveries.
const TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookSecret enforces the shared-secret header Telegram attaches to
// webhook deliveries. An empty configured secret disables the check
// (development convenience only; production config requires it).
func WebhookSecret(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}
		got := c.Get(TelegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid webhook secret",
			})
		}
		return c.Next()
	}
}
