package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/alfredjeanlab/ctxconf/internal/overrides"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// createOverrideRequest is the JSON body for POST /v1/overrides.
type createOverrideRequest struct {
	Kind       string         `json:"kind" validate:"required,context_kind"`
	Identifier string         `json:"identifier" validate:"max=255"`
	Payload    map[string]any `json:"payload" validate:"required"`
	IsActive   *bool          `json:"is_active,omitempty"`
	Actor      string         `json:"actor" validate:"max=255"`
}

// updateOverrideRequest is the JSON body for PATCH /v1/overrides/{id}.
type updateOverrideRequest struct {
	Payload  map[string]any `json:"payload,omitempty" validate:"required_without=IsActive"`
	Mode     string         `json:"mode,omitempty" validate:"omitempty,oneof=replace merge"`
	IsActive *bool          `json:"is_active,omitempty"`
	Actor    string         `json:"actor" validate:"max=255"`
}

// actorRequest is the optional body of activate, deactivate and delete.
type actorRequest struct {
	Actor string `json:"actor" validate:"max=255"`
}

// bulkRequest is the JSON body for POST /v1/overrides/bulk.
type bulkRequest struct {
	Action string   `json:"action" validate:"required,oneof=activate deactivate delete"`
	IDs    []string `json:"ids" validate:"required,min=1,max=50,dive,required"`
	Actor  string   `json:"actor" validate:"max=255"`
}

// preferencesRequest is the JSON body for POST /v1/users/{user_id}/preferences.
type preferencesRequest struct {
	RoleID       string  `json:"role_id,omitempty"`
	OrgID        string  `json:"org_id,omitempty"`
	ThemeMode    *string `json:"theme_mode,omitempty" validate:"omitempty,oneof=light dark"`
	PrimaryColor *string `json:"primary_color,omitempty" validate:"omitempty,hexcolor,len=7"`
	FontSize     *string `json:"font_size,omitempty" validate:"omitempty,oneof=sm base lg"`
	CompactMode  *bool   `json:"compact_mode,omitempty"`
}

func (p preferencesRequest) preferences() model.Preferences {
	return model.Preferences{
		ThemeMode:    p.ThemeMode,
		PrimaryColor: p.PrimaryColor,
		FontSize:     p.FontSize,
		CompactMode:  p.CompactMode,
	}
}

// searchRequest carries the query parameters of GET /v1/overrides/search.
type searchRequest struct {
	Kind       string `json:"kind" validate:"omitempty,context_kind"`
	Identifier string `json:"identifier"`
	CreatedBy  string `json:"created_by"`
	ActiveOnly bool   `json:"active_only"`
	Page       int    `json:"page" validate:"gte=0"`
	Size       int    `json:"size" validate:"gte=0,lte=100"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("context_kind", func(fl validator.FieldLevel) bool {
		_, err := model.ParseKind(fl.Field().String())
		return err == nil
	})
	return v
}

// decodeBody reads a JSON body into dst and validates it. An empty body is
// accepted when allowEmpty is set.
func (s *ConfigServer) decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return fmt.Errorf("%w: invalid JSON body: %v", overrides.ErrInvalidInput, err)
		}
	}
	return s.check(dst)
}

// check runs struct validation and flattens failures into a
// *model.ValidationError so they read like the domain's own errors.
func (s *ConfigServer) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	ve := &model.ValidationError{}
	for _, fe := range verrs {
		fieldErr := model.FieldError{Field: fe.Field(), Message: describe(fe)}
		if fe.Tag() == "context_kind" {
			fieldErr.Err = model.ErrInvalidContextKind
		}
		ve.Errors = append(ve.Errors, fieldErr)
	}
	return ve
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "context_kind":
		return fmt.Sprintf("invalid context kind %q", fmt.Sprint(fe.Value()))
	case "hexcolor", "len":
		return "must be a #rrggbb colour"
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	}
	return "failed " + fe.Tag()
}
