package middleware

import (
	"strconv"
	"strings"
)

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig mirrors the permissive defaults a new project reaches
// for first: allow any origin, the full standard method set, any header.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
		AllowHeaders: []string{"*"},
		MaxAge:       86400,
	}
}

// CORS returns a middleware handling Cross-Origin Resource Sharing using
// DefaultCORSConfig.
func CORS() Middleware {
	return CORSWithConfig(DefaultCORSConfig())
}

// CORSWithConfig returns a CORS middleware using the given configuration.
// A preflight OPTIONS request is answered directly (204, no body) and the
// chain is not continued — this is the same short-circuit a route
// handler would apply, and it is also what lets the dispatcher's
// OPTIONS-preflight fallback work: CORS is typically the only global
// middleware that needs to see preflight requests that have no matching
// route.
func CORSWithConfig(config CORSConfig) Middleware {
	if len(config.AllowOrigins) == 0 {
		config.AllowOrigins = []string{"*"}
	}
	if len(config.AllowMethods) == 0 {
		config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}
	}
	if len(config.AllowHeaders) == 0 {
		config.AllowHeaders = []string{"*"}
	}
	if config.MaxAge == 0 {
		config.MaxAge = 86400
	}

	allowMethods := strings.Join(config.AllowMethods, ", ")
	allowHeaders := strings.Join(config.AllowHeaders, ", ")
	exposeHeaders := strings.Join(config.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(config.MaxAge)

	allowAllOrigins := false
	originSet := make(map[string]struct{}, len(config.AllowOrigins))
	for _, o := range config.AllowOrigins {
		if o == "*" {
			allowAllOrigins = true
			break
		}
		originSet[o] = struct{}{}
	}

	return func(next Next) Next {
		return func(req Request, res Response) {
			origin := req.Header("Origin")

			var allowOrigin string
			if allowAllOrigins {
				allowOrigin = "*"
			} else if _, ok := originSet[origin]; ok && origin != "" {
				allowOrigin = origin
			}

			if allowOrigin != "" {
				res.SetHeader("Access-Control-Allow-Origin", allowOrigin)
				if config.AllowCredentials {
					res.SetHeader("Access-Control-Allow-Credentials", "true")
				}
				if len(config.ExposeHeaders) > 0 {
					res.SetHeader("Access-Control-Expose-Headers", exposeHeaders)
				}
			}

			if req.Method() == "OPTIONS" {
				if allowOrigin != "" {
					res.SetHeader("Access-Control-Allow-Methods", allowMethods)
					res.SetHeader("Access-Control-Allow-Headers", allowHeaders)
					res.SetHeader("Access-Control-Max-Age", maxAge)
				}
				res.Reply(204, nil)
				return
			}

			next(req, res)
		}
	}
}
