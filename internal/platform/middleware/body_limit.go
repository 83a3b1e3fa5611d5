package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const defaultBodyLimit = 1 << 20

var sizeSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"GB", 1 << 30}, {"G", 1 << 30},
	{"MB", 1 << 20}, {"M", 1 << 20},
	{"KB", 1 << 10}, {"K", 1 << 10},
	{"B", 1},
}

// BodyLimit rejects request bodies larger than limit with 413. The limit is
// a size string such as "512K", "1M" or "2MB"; a bare number is bytes.
// Bodies without a usable Content-Length are cut off while they are read.
func BodyLimit(limit string) echo.MiddlewareFunc {
	max := parseLimit(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if req.ContentLength > max {
				return payloadTooLarge(max)
			}
			req.Body = http.MaxBytesReader(c.Response(), req.Body, max)

			err := next(c)
			if isTooLarge(err) {
				return payloadTooLarge(max)
			}
			return err
		}
	}
}

// isTooLarge finds a MaxBytesError directly or behind the 400 echo's binder
// wraps decode failures in.
func isTooLarge(err error) bool {
	if err == nil {
		return false
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Internal != nil {
		return errors.As(he.Internal, &mbe)
	}
	return false
}

func payloadTooLarge(limit int64) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
		fmt.Sprintf("request body exceeds %d bytes", limit))
}

// parseLimit falls back to 1 MB when s is empty or malformed.
func parseLimit(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	mult := int64(1)
	for _, sf := range sizeSuffixes {
		if strings.HasSuffix(s, sf.suffix) {
			s, mult = strings.TrimSuffix(s, sf.suffix), sf.mult
			break
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return defaultBodyLimit
	}
	return n * mult
}
