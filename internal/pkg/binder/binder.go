// internal/pkg/binder/binder.go
package binder

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	xerrors "cimamplify-service/internal/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const maxMultipartMemory = 32 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// Bind reads a JSON or form request into dst, normalizing string-encoded
// arrays, booleans and numbers by the target field types, then validates it.
// Every failure wraps xerrors.ErrInvalidInput.
func Bind(c *gin.Context, dst interface{}) error {
	raw, err := collect(c)
	if err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrInvalidInput, err)
	}
	if err := Decode(raw, dst); err != nil {
		return err
	}
	return Validate(dst)
}

func collect(c *gin.Context) (map[string]interface{}, error) {
	switch c.ContentType() {
	case binding.MIMEJSON:
		raw := map[string]interface{}{}
		if c.Request.Body == nil {
			return raw, nil
		}
		if err := json.NewDecoder(c.Request.Body).Decode(&raw); err != nil {
			return nil, fmt.Errorf("malformed json body: %v", err)
		}
		return raw, nil
	case binding.MIMEMultipartPOSTForm:
		if err := c.Request.ParseMultipartForm(maxMultipartMemory); err != nil {
			return nil, fmt.Errorf("malformed multipart form: %v", err)
		}
		return fromValues(c.Request.MultipartForm.Value), nil
	default:
		if err := c.Request.ParseForm(); err != nil {
			return nil, fmt.Errorf("malformed form: %v", err)
		}
		return fromValues(c.Request.PostForm), nil
	}
}

func fromValues(values url.Values) map[string]interface{} {
	raw := make(map[string]interface{}, len(values))
	for key, vals := range values {
		key = strings.TrimSuffix(key, "[]")
		if len(vals) == 1 {
			raw[key] = vals[0]
			continue
		}
		items := make([]interface{}, 0, len(vals))
		for _, v := range vals {
			items = append(items, v)
		}
		raw[key] = items
	}
	return raw
}

// Decode coerces raw into the shape of dst (a pointer to a struct) using the
// json tags of its fields.
func Decode(raw map[string]interface{}, dst interface{}) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("binder: destination must be a pointer to a struct, got %T", dst)
	}

	t := rv.Elem().Type()
	normalized := make(map[string]interface{}, len(raw))
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := jsonName(field)
		if name == "" {
			continue
		}
		value, ok := raw[name]
		if !ok {
			continue
		}
		coerced, err := coerce(value, field.Type)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", xerrors.ErrInvalidInput, name, err)
		}
		normalized[name] = coerced
	}

	buf, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("binder: %w", err)
	}
	if err := json.Unmarshal(buf, dst); err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrInvalidInput, err)
	}
	return nil
}

// Validate runs struct validation and flattens the result into one message.
func Validate(dst interface{}) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", xerrors.ErrInvalidInput, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("%w: %s", xerrors.ErrInvalidInput, strings.Join(msgs, "; "))
}

func jsonName(f reflect.StructField) string {
	if !f.IsExported() {
		return ""
	}
	tag := f.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}

func coerce(v interface{}, t reflect.Type) (interface{}, error) {
	if t.Kind() == reflect.Ptr {
		if isBlank(v) {
			return nil, nil
		}
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Slice:
		if t.Elem().Kind() != reflect.String {
			return v, nil
		}
		return toStrings(v)
	case reflect.Bool:
		return toBool(v)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return toInt(v)
	case reflect.Float32, reflect.Float64:
		return toFloat(v)
	case reflect.String:
		return toString(v), nil
	default:
		return v, nil
	}
}

func isBlank(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	s = strings.TrimSpace(s)
	return s == "" || s == "null" || s == "undefined"
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case []interface{}:
		if len(x) == 0 {
			return ""
		}
		return toString(x[len(x)-1])
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

// toStrings accepts a JSON array, a JSON-encoded array string, a comma
// separated string or repeated form values.
func toStrings(v interface{}) ([]string, error) {
	var items []interface{}

	switch x := v.(type) {
	case nil:
		return []string{}, nil
	case []interface{}:
		if len(x) == 1 {
			if s, ok := x[0].(string); ok && strings.HasPrefix(strings.TrimSpace(s), "[") {
				return toStrings(s)
			}
		}
		items = x
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return []string{}, nil
		}
		if strings.HasPrefix(s, "[") {
			if err := json.Unmarshal([]byte(s), &items); err != nil {
				return nil, fmt.Errorf("malformed array %q", s)
			}
		} else {
			for _, part := range strings.Split(s, ",") {
				items = append(items, part)
			}
		}
	default:
		items = []interface{}{x}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := toString(item); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func toBool(v interface{}) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case float64:
		return x != 0, nil
	case []interface{}:
		// A checkbox paired with a hidden "false" input posts both values; the last wins.
		if len(x) == 0 {
			return false, nil
		}
		return toBool(x[len(x)-1])
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "on", "yes":
			return true, nil
		case "false", "0", "off", "no", "":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", x)
	}
	return false, fmt.Errorf("not a boolean: %v", v)
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case []interface{}:
		if len(x) == 0 {
			return 0, nil
		}
		return toFloat(x[len(x)-1])
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

func toInt(v interface{}) (int64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %v", v)
	}
	return int64(f), nil
}
