package api

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"LingLongTa/internal/utils"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// ServerConfig HTTP服务配置
type ServerConfig struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
}

func requestLogger(logger *utils.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			now := time.Now()

			err := next(c)

			logger.Info("%s %s -> %d (%v)", c.Request().Method, c.Request().URL, c.Response().Status, time.Since(now))
			return err
		}
	}
}

func recoverer(logger *utils.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (returnErr error) {
			defer func() {
				if r := recover(); r != nil {
					if r == http.ErrAbortHandler {
						panic(r)
					}
					err, ok := r.(error)
					if !ok {
						err = fmt.Errorf("%v", r)
					}

					stack := make([]byte, 4<<10)
					length := runtime.Stack(stack, false)
					logger.Error("处理请求时发生panic: %v\n%s", err, stack[:length])

					returnErr = echo.NewHTTPError(http.StatusInternalServerError, internalErrorMessage).WithInternal(err)
				}
			}()
			return next(c)
		}
	}
}

func errorHandler(logger *utils.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		he, ok := err.(*echo.HTTPError)
		if !ok {
			he = echo.NewHTTPError(http.StatusInternalServerError, internalErrorMessage).WithInternal(err)
		}

		if he.Code >= http.StatusInternalServerError {
			logger.Error("%s %s: %v", c.Request().Method, c.Request().URL, err)
		} else {
			logger.Debug("%s %s: %v", c.Request().Method, c.Request().URL, err)
		}

		var message interface{}
		switch m := he.Message.(type) {
		case string:
			message = echo.Map{"error": m}
		case error:
			message = echo.Map{"error": m.Error()}
		default:
			message = echo.Map{"error": http.StatusText(he.Code)}
		}

		if c.Request().Method == http.MethodHead {
			c.NoContent(he.Code)
		} else {
			c.JSON(he.Code, message)
		}
	}
}

// NewServer 创建注册好中间件的 echo 实例
func NewServer(cfg ServerConfig) *echo.Echo {
	logger := utils.NewLogger("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(99)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	}))

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	e.Use(middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{
		Timeout: timeout,
	}))
	e.Use(requestLogger(logger))
	e.Use(recoverer(logger))

	e.HTTPErrorHandler = errorHandler(logger)
	return e
}
