package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/trip-booking/internal/domain"
	"github.com/iliyamo/trip-booking/internal/model"
)

// RequestValidator adapts validator/v10 to echo.Validator.
type RequestValidator struct {
	v *validator.Validate
}

// NewRequestValidator registers the custom tags used by request bodies:
// "money" requires a strictly positive decimal.Decimal.
func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		d, ok := fl.Field().Interface().(decimal.Decimal)
		return ok && d.IsPositive()
	})
	return &RequestValidator{v: v}
}

// Validate runs the struct tags of i and reports the first failure as a
// validation error.
func (rv *RequestValidator) Validate(i any) error {
	if err := rv.v.Struct(i); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return domain.Validation("%s failed on %s", fe.Namespace(), fe.Tag())
		}
		return domain.Validation("%v", err)
	}
	return nil
}

// bindAndValidate decodes the JSON body into dst and validates it.
func bindAndValidate(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return domain.Validation("invalid request body")
	}
	if err := c.Validate(dst); err != nil {
		return err
	}
	return nil
}

// fail writes err as {"error": code, "message": text}. Internal messages
// are logged and replaced.
func fail(c echo.Context, err error) error {
	status := domain.HTTPStatus(err)
	body := echo.Map{"error": domain.CodeOf(err)}
	var de *domain.Error
	if errors.As(err, &de) && status != http.StatusInternalServerError {
		body["message"] = de.Message
		if len(de.Details) > 0 {
			body["details"] = de.Details
		}
	} else {
		logrus.WithFields(logrus.Fields{
			"method": c.Request().Method,
			"path":   c.Path(),
			"error":  err,
		}).Error("request failed")
		body["message"] = "internal server error"
	}
	return c.JSON(status, body)
}

// getUserID extracts the user_id stored by the JWT middleware.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get("user_id").(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// actorFrom builds the caller identity, answering 401 when the token
// carried no usable subject.
func actorFrom(c echo.Context) (model.Actor, bool) {
	uid, err := getUserID(c)
	if err != nil || uid == 0 {
		return model.Actor{}, false
	}
	role, _ := c.Get("role").(string)
	return model.Actor{UserID: uid, Role: role}, true
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "UNAUTHORIZED", "message": "unauthorized"})
}

func pathID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, domain.Validation("invalid %s", name)
	}
	return id, nil
}

// page reads limit and offset query parameters. Bad values fall back to
// the defaults.
func page(c echo.Context, defLimit int) (limit, offset int) {
	limit, offset = defLimit, 0
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
