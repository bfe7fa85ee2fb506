package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// jsonBinder decodes JSON request bodies and rejects anything after the
// first value. Other content types fall through to echo's binder, which
// answers 415 for media it cannot decode.
type jsonBinder struct {
	echo.DefaultBinder
}

func (b *jsonBinder) Bind(i any, c echo.Context) error {
	req := c.Request()
	if req.ContentLength == 0 {
		return nil
	}
	if !strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return b.DefaultBinder.BindBody(c, i)
	}

	dec := json.NewDecoder(req.Body)
	if err := dec.Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return echo.NewHTTPError(http.StatusBadRequest, "unexpected data after JSON body")
	}
	return nil
}
