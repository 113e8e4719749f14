package middlewares

import (
	t_token "chat_fanout_service/pkg/token"

	"github.com/gofiber/fiber/v2"
)

const (
	//QueryToken token in query name
	QueryToken = "auth"

	//CookieToken token in cookie name
	CookieToken = "auth_token"

	//TokenMemberID get member form token, set c.locals name
	TokenMemberID = "MemberID"
	//TokenMemberName display name form token, set c.locals name
	TokenMemberName = "MemberName"
	//TokenRole get role form token, set c.locals name
	TokenRole = "role"
)

// JWTMiddleware validates JWT from query or cookie.
// required=false 時沒有 token 會以匿名身分繼續, 但錯誤的 token 一律拒絕
func JWTMiddleware(required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := c.Query(QueryToken)

		// 如果查詢參數中沒有 token，則嘗試從 Cookie 中獲取
		if tokenStr == "" {
			tokenStr = c.Cookies(CookieToken)
		}

		if tokenStr == "" {
			if required {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Missing token",
				})
			}
			return c.Next()
		}

		claims, err := t_token.ParseJWT(tokenStr)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals(TokenMemberID, claims.MemberID)
		c.Locals(TokenMemberName, claims.Name)
		c.Locals(TokenRole, claims.Role)
		return c.Next()
	}
}

// MemberFromLocals read identity values set by JWTMiddleware, empty id means anonymous
//
//	id, name := MemberFromLocals(c.Locals(TokenMemberID), c.Locals(TokenMemberName))
func MemberFromLocals(idValue, nameValue interface{}) (id, name string) {
	id, _ = idValue.(string)
	name, _ = nameValue.(string)
	return id, name
}
