package errx

import (
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// WrapRedis maps Redis errors to the unified Error type with appropriate kinds.
// A missing key is permanent (retrying will not create it); everything else is
// transient so the resilience layer may retry.
func WrapRedis(err error) *Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, redis.Nil) {
		return &Error{Err: err, Kind: KindPermanent, Status: http.StatusNotFound, Message: RedisNotFoundMessage}
	}

	return Transient(err, RedisErrorMessage)
}
